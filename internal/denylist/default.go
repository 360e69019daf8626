package denylist

// DefaultPatterns are the processes reaper never terminates. An extension
// file can add to them but never remove any.
var DefaultPatterns = Patterns{
	Names: []string{
		"kernel_task",
		"launchd",
		"WindowServer",
		"loginwindow",
		"Finder",
		"Dock",
		"SystemUIServer",
		"logd",
		"opendirectoryd",
		"securityd",
		"coreservicesd",
		"mds",
	},
	BundleIDs: []string{
		"com.apple.finder",
		"com.apple.dock",
		"com.apple.systemuiserver",
		"com.apple.loginwindow",
		"com.apple.WindowServer",
	},
	Paths: []string{
		"/System/Library/CoreServices/loginwindow.app/**",
		"/System/Library/PrivateFrameworks/SkyLight.framework/**",
	},
}
