// internal/browser/storage_test.go
package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieConversion(t *testing.T) {
	t.Run("PersistentCookie", func(t *testing.T) {
		c := cookieFromCDP(&network.Cookie{
			Name:     "wa_ul",
			Value:    "abc",
			Domain:   ".whatsapp.com",
			Path:     "/",
			Expires:  1767225600.5,
			HTTPOnly: true,
			Secure:   true,
			SameSite: network.CookieSameSiteLax,
		})
		want := Cookie{
			Name:     "wa_ul",
			Value:    "abc",
			Domain:   ".whatsapp.com",
			Path:     "/",
			Expires:  1767225600.5,
			HTTPOnly: true,
			Secure:   true,
			SameSite: "Lax",
		}
		if diff := cmp.Diff(want, c); diff != "" {
			t.Errorf("cookieFromCDP mismatch (-want +got):\n%s", diff)
		}

		p := c.toParam()
		require.NotNil(t, p.Expires)
		assert.Equal(t, int64(1767225600), time.Time(*p.Expires).Unix())
		assert.Equal(t, network.CookieSameSiteLax, p.SameSite)
		assert.True(t, p.HTTPOnly)
	})

	t.Run("SessionCookie", func(t *testing.T) {
		c := cookieFromCDP(&network.Cookie{Name: "s", Value: "1", Session: true, Expires: 123})
		assert.Equal(t, float64(-1), c.Expires)
		assert.Nil(t, c.toParam().Expires, "session cookies must not get an expiry")
	})
}

func TestStorageStateEmpty(t *testing.T) {
	var nilState *StorageState
	assert.True(t, nilState.Empty())
	assert.True(t, (&StorageState{}).Empty())
	assert.False(t, (&StorageState{Cookies: []Cookie{{Name: "a"}}}).Empty())
	assert.False(t, (&StorageState{Origins: []OriginStorage{{Origin: "https://web.whatsapp.com"}}}).Empty())
}
