package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/app"
	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
)

var (
	purgeNoElevate bool
	maintElevate   bool
)

// maintenanceActions maps short names to catalog ids.
var maintenanceActions = map[string]string{
	"purge":     capability.MemoryPurge,
	"dns":       capability.DNSFlush,
	"quicklook": capability.QuickLookReset,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(maintCmd)
	purgeCmd.Flags().BoolVar(&purgeNoElevate, "no-elevate", false, "Fail instead of asking for administrator rights")
	maintCmd.Flags().BoolVar(&maintElevate, "elevate", false, "Allow an administrator prompt if the action needs it")
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge inactive memory",
	Long:  "Runs /usr/sbin/purge, which needs administrator rights, and reports available\nmemory before and after.",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

var maintCmd = &cobra.Command{
	Use:   "maint <" + strings.Join(maintenanceNames(), "|") + ">",
	Short: "Run a system maintenance action",
	Args:  cobra.ExactArgs(1),
	RunE:  runMaint,
}

func maintenanceNames() []string {
	names := make([]string, 0, len(maintenanceActions))
	for n := range maintenanceActions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func runPurge(cmd *cobra.Command, args []string) error {
	rt, closeRT, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRT()
	ctx, cancel := signalContext()
	defer cancel()

	before, memErr := proc.Memory(ctx)
	out := rt.Maintenance(ctx, capability.MemoryPurge, !purgeNoElevate)
	if err := reportOutcome(rt, capability.MemoryPurge, out); err != nil {
		return err
	}
	if memErr != nil || jsonOutput {
		return nil
	}
	after, err := proc.Memory(ctx)
	if err != nil {
		return nil
	}
	fmt.Printf("Available memory: %s -> %s\n", humanBytes(before.Available), humanBytes(after.Available))
	return nil
}

func runMaint(cmd *cobra.Command, args []string) error {
	id, ok := maintenanceActions[args[0]]
	if !ok {
		return fmt.Errorf("unknown maintenance action %q (want one of %s)", args[0], strings.Join(maintenanceNames(), ", "))
	}
	rt, closeRT, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRT()
	ctx, cancel := signalContext()
	defer cancel()

	return reportOutcome(rt, id, rt.Maintenance(ctx, id, maintElevate))
}

func reportOutcome(rt *app.Runtime, id string, out model.Outcome) error {
	if jsonOutput {
		if err := printJSON(out); err != nil {
			return err
		}
	} else if out.OK() {
		name := id
		if c, ok := rt.Catalog.Lookup(id); ok {
			name = c.DisplayName
		}
		fmt.Printf("✓ %s (%s tier)\n", name, out.Tier)
	}
	if !out.OK() {
		return fmt.Errorf("%s", out.Message)
	}
	return nil
}
