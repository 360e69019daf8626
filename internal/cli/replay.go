package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/audit"
)

var (
	replayLog    string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	auditCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayLog, "log", "l", "", "Path to audit log (default from config)")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start of window: RFC3339 time or a duration ago, e.g. 2h")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End of window: RFC3339 time or a duration ago")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var replayCmd = &cobra.Command{
	Use:   "replay [session-id]",
	Short: "Replay what reaper did, one session or all",
	Long: `Renders every recorded action with its escalation attempts, for one
session or for all of them, optionally limited to a time window:
  reaper audit replay --from 2h
  reaper audit replay s-2f0c... --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

// parseWhen accepts an RFC3339 time or a duration before now.
func parseWhen(flag, v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want RFC3339 or a duration like 90m", flag, v)
	}
	return t, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	now := time.Now()
	from, err := parseWhen("from", replayFrom, now)
	if err != nil {
		return err
	}
	to, err := parseWhen("to", replayTo, now)
	if err != nil {
		return err
	}
	filter := audit.ReplayFilter{From: from, To: to}
	if len(args) == 1 {
		filter.SessionID = args[0]
	}

	path := replayLog
	if path == "" {
		if path, err = auditPath(nil); err != nil {
			return err
		}
	}
	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	if replayFormat == "json" || jsonOutput {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(audit.FormatTimeline(result))
	return nil
}
