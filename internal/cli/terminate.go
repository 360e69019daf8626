package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
	"github.com/ppiankov/reaper/internal/terminate"
)

var terminateNoElevate bool

func init() {
	rootCmd.AddCommand(terminateCmd)
	terminateCmd.Flags().BoolVar(&terminateNoElevate, "no-elevate", false, "Never ask for administrator rights")
}

var terminateCmd = &cobra.Command{
	Use:     "terminate <pid>...",
	Aliases: []string{"kill"},
	Short:   "Terminate processes with tiered escalation",
	Long: `Terminates each pid by climbing the escalation ladder:
  graceful quit (apps only) -> SIGTERM -> SIGKILL -> administrator kill
verifying after every step that the process is gone. Protected system
processes are refused. One audit record is written per process.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTerminate,
}

func parsePIDs(args []string) ([]int32, error) {
	pids := make([]int32, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseInt(a, 10, 32)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid pid %q", a)
		}
		pids = append(pids, int32(n))
	}
	return pids, nil
}

func runTerminate(cmd *cobra.Command, args []string) error {
	pids, err := parsePIDs(args)
	if err != nil {
		return err
	}
	rt, closeRT, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRT()
	ctx, cancel := signalContext()
	defer cancel()

	var results []terminate.Result
	if len(pids) == 1 {
		results = []terminate.Result{rt.TerminatePID(ctx, pids[0], terminateNoElevate)}
	} else {
		reqs := make([]terminate.Request, 0, len(pids))
		for _, pid := range pids {
			t, err := rt.Resolver.Resolve(ctx, pid)
			if errors.Is(err, proc.ErrNotFound) {
				t = &model.TerminationTarget{PID: pid}
			} else if err != nil {
				return err
			}
			reqs = append(reqs, terminate.Request{Target: t, NoElevate: terminateNoElevate})
		}
		results = rt.Engine.TerminateAll(ctx, reqs)
	}

	if jsonOutput {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			fmt.Println(formatResult(r))
		}
	}
	for _, r := range results {
		if !r.Outcome.OK() {
			return fmt.Errorf("%d of %d terminations failed", countFailed(results), len(results))
		}
	}
	return nil
}

func countFailed(results []terminate.Result) int {
	n := 0
	for _, r := range results {
		if !r.Outcome.OK() {
			n++
		}
	}
	return n
}

func formatResult(r terminate.Result) string {
	subject := "?"
	if r.Target != nil {
		subject = r.Target.Describe()
	}
	var b strings.Builder
	if r.Outcome.OK() {
		fmt.Fprintf(&b, "✓ %s terminated", subject)
	} else {
		fmt.Fprintf(&b, "✗ %s: %s", subject, r.Outcome.Message)
	}
	var steps []string
	for _, a := range r.Attempts {
		s := fmt.Sprintf("%s=%s", strings.TrimPrefix(a.CapabilityID, "process."), a.Status)
		if a.ErrorKind != model.KindNone {
			s += "(" + string(a.ErrorKind) + ")"
		}
		steps = append(steps, s)
	}
	if len(steps) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(steps, " "))
	}
	if r.Shared {
		b.WriteString(" (joined in-flight termination)")
	}
	return b.String()
}
