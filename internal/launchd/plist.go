// Package launchd renders and checks the LaunchDaemon that runs the
// privileged helper.
package launchd

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// Label is the helper's launchd label.
const Label = "com.ppiankov.reaper.helper"

// PlistPath is where the daemon definition is installed.
var PlistPath = filepath.Join("/Library/LaunchDaemons", Label+".plist")

// Options fill the plist template.
type Options struct {
	Binary string
	Socket string
	// OwnerUID is the only uid allowed to open the socket.
	OwnerUID int
	LogPath  string
}

const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{xml .Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{xml .Binary}}</string>
		<string>--socket</string>
		<string>{{xml .Socket}}</string>
		<string>--owner-uid</string>
		<string>{{.OwnerUID}}</string>
	</array>
	<key>UserName</key>
	<string>root</string>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>ProcessType</key>
	<string>Interactive</string>
	<key>StandardErrorPath</key>
	<string>{{xml .LogPath}}</string>
</dict>
</plist>
`

var tmpl = template.Must(template.New("plist").Funcs(template.FuncMap{"xml": xmlEscape}).Parse(plistTemplate))

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// HelperPlist renders the LaunchDaemon plist.
func HelperPlist(o Options) (string, error) {
	if !filepath.IsAbs(o.Binary) {
		return "", fmt.Errorf("launchd: helper binary must be an absolute path, got %q", o.Binary)
	}
	if !filepath.IsAbs(o.Socket) {
		return "", fmt.Errorf("launchd: socket must be an absolute path, got %q", o.Socket)
	}
	if o.OwnerUID <= 0 {
		return "", fmt.Errorf("launchd: owner uid must be a regular user, got %d", o.OwnerUID)
	}
	if o.LogPath == "" {
		o.LogPath = "/var/log/reaper-helper.log"
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, struct {
		Options
		Label string
	}{o, Label})
	if err != nil {
		return "", fmt.Errorf("launchd: render plist: %w", err)
	}
	return buf.String(), nil
}

// InstallCommands are the shell steps that install a rendered plist.
func InstallCommands(tmpPlist string) []string {
	return []string{
		fmt.Sprintf("sudo install -m 0644 -o root -g wheel %s %s", tmpPlist, PlistPath),
		fmt.Sprintf("sudo launchctl bootstrap system %s", PlistPath),
		fmt.Sprintf("sudo launchctl enable system/%s", Label),
	}
}

// UninstallCommands remove the daemon.
func UninstallCommands() []string {
	return []string{
		fmt.Sprintf("sudo launchctl bootout system/%s", Label),
		fmt.Sprintf("sudo rm -f %s", PlistPath),
	}
}
