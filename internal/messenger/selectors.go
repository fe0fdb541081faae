package messenger

import (
	"time"

	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/readiness"
)

var (
	chatListSelector    = browser.CSS(`div[role="list"]`)
	chatListTestID      = browser.CSS(`div[data-testid="chat-list"]`)
	searchBoxSelector   = browser.CSS(`div[contenteditable="true"][data-tab="3"]`)
	composeBoxSelector  = browser.CSS(`div[contenteditable="true"][data-tab="10"]`)
	loginChallengeQuery = browser.CSS("canvas")
)

// resultTitle matches a search result whose title is exactly name.
func resultTitle(name string) browser.Selector {
	return browser.Attr("span", "title", name)
}

// sentText matches a rendered log entry containing text verbatim.
func sentText(text string) browser.Selector {
	return browser.ContainsText("span", text)
}

// LoginProbes is the set of indicators that only a logged-in client renders. Any
// one of them is enough. labels are the localized captions of the chat list.
func LoginProbes(timeout time.Duration, labels ...string) []readiness.Probe {
	probes := []readiness.Probe{
		{Name: "chat-list", Selector: chatListSelector, Timeout: timeout},
		{Name: "chat-list-testid", Selector: chatListTestID, Timeout: timeout},
		{Name: "search-box", Selector: searchBoxSelector, Timeout: timeout},
	}
	for _, label := range labels {
		probes = append(probes, readiness.Probe{
			Name:     "label:" + label,
			Selector: browser.HasText("span", label),
			Timeout:  timeout,
		})
	}
	return probes
}

// ChallengeProbe detects the QR login challenge.
func ChallengeProbe(timeout time.Duration) readiness.Probe {
	return readiness.Probe{Name: "login-challenge", Selector: loginChallengeQuery, Timeout: timeout}
}
