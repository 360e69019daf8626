package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/proc"
)

var (
	psName  string
	psLimit int
	psMine  bool
)

func init() {
	rootCmd.AddCommand(psCmd)
	psCmd.Flags().StringVar(&psName, "name", "", "Only processes whose name contains this (case-insensitive)")
	psCmd.Flags().IntVarP(&psLimit, "limit", "n", 25, "Maximum rows, 0 for all")
	psCmd.Flags().BoolVar(&psMine, "mine", false, "Only processes owned by the current user")
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List processes by memory use",
	Long:  "Lists running processes, largest resident memory first, marking those owned\nby another user and those reaper will never terminate.",
	Args:  cobra.NoArgs,
	RunE:  runPS,
}

type psRow struct {
	PID       int32  `json:"pid"`
	Name      string `json:"name"`
	BundleID  string `json:"bundle_id,omitempty"`
	RSS       uint64 `json:"rss"`
	Mine      bool   `json:"mine"`
	Protected bool   `json:"protected"`
}

func runPS(cmd *cobra.Command, args []string) error {
	rt, closeRT, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRT()
	ctx := cmd.Context()

	snaps, err := rt.Table.List(ctx)
	if err != nil {
		return err
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].RSS > snaps[j].RSS })

	needle := strings.ToLower(psName)
	var rows []psRow
	for _, s := range snaps {
		if needle != "" && !strings.Contains(strings.ToLower(s.Name), needle) {
			continue
		}
		t := rt.Resolver.FromSnapshot(ctx, s)
		if psMine && !t.OwnerMatchesCurrentUser {
			continue
		}
		rows = append(rows, psRow{PID: t.PID, Name: t.Name, BundleID: t.BundleID, RSS: s.RSS,
			Mine: t.OwnerMatchesCurrentUser, Protected: t.IsProtected})
		if psLimit > 0 && len(rows) == psLimit {
			break
		}
	}

	if jsonOutput {
		return printJSON(rows)
	}
	if mem, err := proc.Memory(ctx); err == nil {
		fmt.Printf("Memory: %s available of %s\n\n", humanBytes(mem.Available), humanBytes(mem.Total))
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tRSS\tFLAGS\tNAME")
	for _, r := range rows {
		flags := ""
		if !r.Mine {
			flags += "U"
		}
		if r.Protected {
			flags += "P"
		}
		if flags == "" {
			flags = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.PID, humanBytes(r.RSS), flags, r.Name)
	}
	return w.Flush()
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
