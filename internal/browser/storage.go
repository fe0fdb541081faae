// internal/browser/storage.go
package browser

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// StorageState is the authenticated state of a browser context: its cookies plus
// localStorage per origin. It is opaque to everything outside this package except
// the session store, which persists it.
type StorageState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}

// Cookie is a browser cookie. Expires is seconds since the epoch, or -1 for a
// session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginStorage is the localStorage content of one origin.
type OriginStorage struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"localStorage"`
}

// Empty reports whether the state carries nothing worth restoring.
func (s *StorageState) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0)
}

func cookieFromCDP(c *network.Cookie) Cookie {
	expires := c.Expires
	if c.Session {
		expires = -1
	}
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  expires,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite.String(),
	}
}

func (c Cookie) toParam() *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	if c.SameSite != "" {
		p.SameSite = network.CookieSameSite(c.SameSite)
	}
	if c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		t := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*float64(time.Second))))
		p.Expires = &t
	}
	return p
}

// localStorageJS reads the current origin and its localStorage.
const localStorageJS = `(() => {
	const out = { origin: window.location.origin, localStorage: {} };
	try {
		for (let i = 0; i < window.localStorage.length; i++) {
			const k = window.localStorage.key(i);
			out.localStorage[k] = window.localStorage.getItem(k);
		}
	} catch (e) {}
	return out;
})()`

// captureStorage collects the cookies of the browser context and the localStorage
// of the page's current origin.
func captureStorage(ctx context.Context, browserContextID cdp.BrowserContextID) (*StorageState, error) {
	var (
		cookies []*network.Cookie
		origin  OriginStorage
	)
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(c context.Context) (err error) {
			q := storage.GetCookies()
			if browserContextID != "" {
				q = q.WithBrowserContextID(browserContextID)
			}
			cookies, err = q.Do(c)
			return err
		}),
		chromedp.Evaluate(localStorageJS, &origin),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture storage state: %w", err)
	}

	state := &StorageState{Cookies: make([]Cookie, 0, len(cookies))}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, cookieFromCDP(c))
	}
	if origin.Origin != "" && origin.Origin != "null" && len(origin.LocalStorage) > 0 {
		state.Origins = append(state.Origins, origin)
	}
	return state, nil
}

// restoreLocalStorageJS seeds localStorage on the first document of a matching
// origin. The argument is the list of OriginStorage values.
const restoreLocalStorageJS = `(function(origins) {
	const entry = origins.find((o) => o.origin === window.location.origin);
	if (!entry) return;
	try {
		for (const [k, v] of Object.entries(entry.localStorage || {})) {
			if (window.localStorage.getItem(k) === null) window.localStorage.setItem(k, v);
		}
	} catch (e) {}
})`

// restoreStorage applies state to a fresh browser context before any navigation.
func restoreStorage(ctx context.Context, browserContextID cdp.BrowserContextID, state *StorageState) error {
	if state.Empty() {
		return nil
	}
	return chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if len(state.Cookies) > 0 {
			params := make([]*network.CookieParam, 0, len(state.Cookies))
			for _, ck := range state.Cookies {
				params = append(params, ck.toParam())
			}
			set := storage.SetCookies(params)
			if browserContextID != "" {
				set = set.WithBrowserContextID(browserContextID)
			}
			if err := set.Do(c); err != nil {
				return fmt.Errorf("failed to restore cookies: %w", err)
			}
		}
		if len(state.Origins) > 0 {
			arg, err := json.Marshal(state.Origins)
			if err != nil {
				return fmt.Errorf("failed to encode local storage: %w", err)
			}
			script := fmt.Sprintf("(%s)(%s);", restoreLocalStorageJS, arg)
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(c); err != nil {
				return fmt.Errorf("failed to restore local storage: %w", err)
			}
		}
		return nil
	}))
}
