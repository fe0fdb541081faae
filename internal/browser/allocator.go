// internal/browser/allocator.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/courier-cli/internal/config"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 720
)

// launchFlag is one Chrome command line switch. A bool Value of false removes a
// switch that chromedp's defaults would otherwise set.
type launchFlag struct {
	Name  string
	Value interface{}
}

// launchFlags computes the Chrome switches for cfg. It is separate from
// DefaultAllocatorOptions so the result can be inspected without a browser.
func launchFlags(cfg config.BrowserConfig) []launchFlag {
	flags := []launchFlag{
		{"headless", cfg.Headless},
		{"hide-scrollbars", cfg.Headless},
		{"mute-audio", cfg.Headless},
		// Messaging clients refuse to load when they detect automation.
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"no-first-run", true},
		{"disable-extensions", true},
		{"disable-default-apps", true},
		{"no-default-browser-check", true},
		{"disable-dev-shm-usage", true},
		{"disable-background-timer-throttling", true},
		{"disable-renderer-backgrounding", true},
		{"disable-notifications", true},
	}
	if cfg.Headless {
		flags = append(flags, launchFlag{"disable-gpu", true})
	}
	if cfg.DisableCache {
		flags = append(flags,
			launchFlag{"disk-cache-size", "0"},
			launchFlag{"media-cache-size", "0"},
			launchFlag{"disable-cache", true},
		)
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			launchFlag{"ignore-certificate-errors", true},
			launchFlag{"allow-insecure-localhost", true},
		)
	}

	width, height := viewport(cfg)
	flags = append(flags, launchFlag{"window-size", fmt.Sprintf("%d,%d", width, height)})

	for _, arg := range cfg.Args {
		name, value := splitArg(arg)
		flags = append(flags, launchFlag{name, value})
	}
	return flags
}

// DefaultAllocatorOptions builds the exec allocator options for cfg on top of
// chromedp's defaults.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

func viewport(cfg config.BrowserConfig) (int, int) {
	width, height := cfg.Viewport["width"], cfg.Viewport["height"]
	if width <= 0 {
		width = defaultViewportWidth
	}
	if height <= 0 {
		height = defaultViewportHeight
	}
	return width, height
}

// splitArg turns "--name=value" into ("name", "value") and "--name" into ("name", true).
func splitArg(arg string) (string, interface{}) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}
