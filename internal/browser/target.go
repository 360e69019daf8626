// Package browser drives tab enumeration and closing for a fixed set of
// browsers. Each browser is one variant of a closed set; its identity is
// carried into every error it produces.
package browser

import (
	"fmt"
	"strings"
)

// Browser is one supported browser.
type Browser string

const (
	Safari Browser = "safari"
	Chrome Browser = "chrome"
	Edge   Browser = "edge"
	Brave  Browser = "brave"
	Arc    Browser = "arc"
)

// Dialect is a scripting dictionary family.
type Dialect string

const (
	DialectSafari   Dialect = "safari"
	DialectChromium Dialect = "chromium"
)

// Target is the static description of one browser.
type Target struct {
	Browser     Browser `json:"browser"`
	BundleID    string  `json:"bundle_id"`
	Dialect     Dialect `json:"dialect"`
	DisplayName string  `json:"display_name"`
}

// targets is the closed variant set, in display order.
var targets = []Target{
	{Browser: Safari, BundleID: "com.apple.Safari", Dialect: DialectSafari, DisplayName: "Safari"},
	{Browser: Chrome, BundleID: "com.google.Chrome", Dialect: DialectChromium, DisplayName: "Google Chrome"},
	{Browser: Edge, BundleID: "com.microsoft.edgemac", Dialect: DialectChromium, DisplayName: "Microsoft Edge"},
	{Browser: Brave, BundleID: "com.brave.Browser", Dialect: DialectChromium, DisplayName: "Brave Browser"},
	{Browser: Arc, BundleID: "company.thebrowser.Browser", Dialect: DialectChromium, DisplayName: "Arc"},
}

// Targets returns every supported browser.
func Targets() []Target {
	return append([]Target(nil), targets...)
}

// Lookup finds a browser by name ("chrome"), display name or bundle id.
func Lookup(name string) (Target, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, t := range targets {
		if n == string(t.Browser) || n == strings.ToLower(t.DisplayName) || n == strings.ToLower(t.BundleID) {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("browser: unsupported browser %q", name)
}

// DisplayNameFor returns the display name for a bundle id, "" if it is not
// a supported browser.
func DisplayNameFor(bundleID string) string {
	for _, t := range targets {
		if t.BundleID == bundleID {
			return t.DisplayName
		}
	}
	return ""
}
