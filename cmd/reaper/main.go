// reaper terminates processes, purges memory and closes browser tabs on a
// macOS session, refusing protected system processes and auditing every
// action.
package main

import "github.com/ppiankov/reaper/internal/cli"

// version is set by ldflags at build time.
var version = "dev"

func main() {
	cli.Version = version
	cli.Execute()
}
