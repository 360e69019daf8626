package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/denylist"
)

func init() {
	rootCmd.AddCommand(protectedCmd)
	protectedCmd.AddCommand(protectedListCmd)
	protectedCmd.AddCommand(protectedCheckCmd)
}

var protectedCmd = &cobra.Command{
	Use:   "protected",
	Short: "Show which processes reaper will never terminate",
}

var protectedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin and configured protected entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dl, err := denylist.Load(cfg.Protected.Path)
		if err != nil {
			return err
		}
		e := dl.Entries()
		if jsonOutput {
			return printJSON(e)
		}
		printSection("Names", e.Names)
		printSection("Bundle IDs", e.BundleIDs)
		printSection("Paths", e.Paths)
		fmt.Printf("\nExtension file: %s\n", cfg.Protected.Path)
		return nil
	},
}

var protectedCheckCmd = &cobra.Command{
	Use:   "check <pid>",
	Short: "Explain whether a running process is protected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid pid %q", args[0])
		}
		rt, closeRT, err := openRuntime()
		if err != nil {
			return err
		}
		defer closeRT()
		ctx := cmd.Context()

		snap, err := rt.Table.Lookup(ctx, int32(pid))
		if err != nil {
			return err
		}
		t := rt.Resolver.FromSnapshot(ctx, snap)
		ok, reason := rt.Denylist.IsProtected(denylist.Process{PID: t.PID, Name: t.Name, BundleID: t.BundleID, Exe: snap.Exe})
		if !ok {
			fmt.Printf("%s is not protected\n", t.Describe())
			return nil
		}
		fmt.Printf("%s is protected (%s)\n", t.Describe(), reason)
		return nil
	},
}

func printSection(title string, entries []string) {
	fmt.Printf("%s:\n", title)
	for _, e := range entries {
		fmt.Printf("  %s\n", e)
	}
}
