// reaper-helper is the privileged half of reaper. launchd runs it as root;
// it accepts elevated kill and maintenance requests by capability id on a
// unix socket owned by the installing user.
package main

import "github.com/ppiankov/reaper/internal/cli"

// version is set by ldflags at build time.
var version = "dev"

func main() {
	cli.Version = version
	cli.ExecuteHelper()
}
