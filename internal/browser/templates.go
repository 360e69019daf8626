package browser

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ppiankov/reaper/internal/script"
)

// Template ids.
const (
	TemplateEnumerate   = "enumerate_tabs"
	TemplateCloseTab    = "close_tab"
	TemplateCloseWindow = "close_all_tabs"
)

// Enumeration framing: a tab count, then one record per tab. ASCII unit
// separator between fields, record separator between records. The scripts
// replace both characters in page-supplied text with a space, so a title
// or URL can never open a field or record of its own.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// Every template reads its indices from argv; the only rendered values
// are static fields of Target.
var dialectTemplates = map[Dialect]map[string]string{
	DialectSafari: {
		TemplateEnumerate: `on scrub(s)
	set saved to AppleScript's text item delimiters
	set AppleScript's text item delimiters to {ASCII character 30, ASCII character 31}
	set parts to text items of (s as text)
	set AppleScript's text item delimiters to " "
	set clean to parts as text
	set AppleScript's text item delimiters to saved
	return clean
end scrub

on run argv
	set us to ASCII character 31
	set rs to ASCII character 30
	set out to ""
	set n to 0
	tell application id {{quote .BundleID}}
		set wi to 0
		repeat with w in (every window whose document is not missing value)
			set wi to wi + 1
			set ti to 0
			repeat with t in (tabs of w)
				set ti to ti + 1
				set n to n + 1
				set out to out & wi & us & ti & us & my scrub(URL of t) & us & my scrub(name of t) & rs
			end repeat
		end repeat
	end tell
	return (n as text) & rs & out
end run`,
		TemplateCloseTab: `on run argv
	set wi to (item 1 of argv) as integer
	set ti to (item 2 of argv) as integer
	tell application id {{quote .BundleID}}
		close tab ti of (item wi of (every window whose document is not missing value))
	end tell
end run`,
		TemplateCloseWindow: `on run argv
	set wi to (item 1 of argv) as integer
	tell application id {{quote .BundleID}}
		close (item wi of (every window whose document is not missing value))
	end tell
end run`,
	},
	DialectChromium: {
		TemplateEnumerate: `on scrub(s)
	set saved to AppleScript's text item delimiters
	set AppleScript's text item delimiters to {ASCII character 30, ASCII character 31}
	set parts to text items of (s as text)
	set AppleScript's text item delimiters to " "
	set clean to parts as text
	set AppleScript's text item delimiters to saved
	return clean
end scrub

on run argv
	set us to ASCII character 31
	set rs to ASCII character 30
	set out to ""
	set n to 0
	tell application id {{quote .BundleID}}
		set wi to 0
		repeat with w in windows
			set wi to wi + 1
			set ti to 0
			repeat with t in (tabs of w)
				set ti to ti + 1
				set n to n + 1
				set out to out & wi & us & ti & us & my scrub(URL of t) & us & my scrub(title of t) & rs
			end repeat
		end repeat
	end tell
	return (n as text) & rs & out
end run`,
		TemplateCloseTab: `on run argv
	set wi to (item 1 of argv) as integer
	set ti to (item 2 of argv) as integer
	tell application id {{quote .BundleID}}
		close tab ti of window wi
	end tell
end run`,
		TemplateCloseWindow: `on run argv
	set wi to (item 1 of argv) as integer
	tell application id {{quote .BundleID}}
		close every tab of window wi
	end tell
end run`,
	},
}

var funcs = template.FuncMap{"quote": script.Quote}

// Render renders one template for t. It is called once per (browser,
// template) at startup.
func Render(t Target, templateID string) (string, error) {
	src, ok := dialectTemplates[t.Dialect][templateID]
	if !ok {
		return "", fmt.Errorf("browser: no %s template for dialect %s", templateID, t.Dialect)
	}
	tmpl, err := template.New(string(t.Browser) + "." + templateID).Funcs(funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("browser: parse %s: %w", templateID, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, t); err != nil {
		return "", fmt.Errorf("browser: render %s for %s: %w", templateID, t.Browser, err)
	}
	return buf.String(), nil
}
