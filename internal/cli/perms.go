package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/reaper/internal/browser"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/permission"
)

var permsWatchEvery time.Duration

func init() {
	rootCmd.AddCommand(permsCmd)
	permsCmd.AddCommand(permsStatusCmd)
	permsCmd.AddCommand(permsFixCmd)
	permsCmd.AddCommand(permsWatchCmd)
	permsCmd.AddCommand(permsResetCmd)
	permsWatchCmd.Flags().DurationVar(&permsWatchEvery, "every", 10*time.Second, "How often to print the table")
}

var permsCmd = &cobra.Command{
	Use:   "perms",
	Short: "Inspect and request macOS privacy permissions",
}

var permsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe Accessibility and each browser's Automation consent",
	Args:  cobra.NoArgs,
	RunE:  runPermsStatus,
}

var permsFixCmd = &cobra.Command{
	Use:   "fix <subject>",
	Short: "Trigger the consent flow for a subject",
	Long: `Triggers the macOS consent flow for one subject, for example:
  reaper perms fix automation:com.google.Chrome
  reaper perms fix accessibility
Repeated requests inside the cooldown are debounced.`,
	Args: cobra.ExactArgs(1),
	RunE: runPermsFix,
}

var permsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep permission state fresh and print it periodically",
	Args:  cobra.NoArgs,
	RunE:  runPermsWatch,
}

var permsResetCmd = &cobra.Command{
	Use:   "reset <subject>",
	Short: "Forget that automatic remediation was already attempted for a subject",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermsReset,
}

func permissionSubjects() []model.Subject {
	subjects := []model.Subject{model.Accessibility()}
	for _, t := range browser.Targets() {
		subjects = append(subjects, model.Automation(t.BundleID))
	}
	return subjects
}

func subjectName(s model.Subject) string {
	if s.Kind == model.SubjectAutomation {
		if name := browser.DisplayNameFor(s.ID); name != "" {
			return "Automation: " + name
		}
	}
	if s.Kind == model.SubjectAccessibility {
		return "Accessibility"
	}
	return s.String()
}

func printStates(states []permission.State) error {
	if jsonOutput {
		return printJSON(states)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tSTATUS\tSOURCE\tCHECKED")
	for _, st := range states {
		checked := "-"
		if !st.LastCheckedAt.IsZero() {
			checked = st.LastCheckedAt.Local().Format("15:04:05")
		}
		status := string(st.Status)
		if st.Error != "" {
			status += " (" + st.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", subjectName(st.Subject), status, st.Source, checked)
	}
	return w.Flush()
}

func runPermsStatus(cmd *cobra.Command, args []string) error {
	rt, closeRT, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRT()
	ctx, cancel := signalContext()
	defer cancel()

	var states []permission.State
	for _, subj := range permissionSubjects() {
		states = append(states, rt.Tracker.Resolve(ctx, subj))
	}
	return printStates(states)
}

func runPermsFix(cmd *cobra.Command, args []string) error {
	subj, err := model.ParseSubject(args[0])
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

	rem, err := rt.Tracker.RequestRemediation(ctx, subj)
	if err != nil {
		return fmt.Errorf("%s", model.UserMessage(err))
	}
	if jsonOutput {
		return printJSON(rem)
	}
	if rem.Debounced {
		fmt.Printf("%s: a consent request was made recently; try again later\n", subjectName(subj))
		return nil
	}
	fmt.Printf("%s: %s\n", subjectName(subj), rem.State.Status)
	return nil
}

func runPermsWatch(cmd *cobra.Command, args []string) error {
	rt, closeRT, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRT()
	ctx, cancel := signalContext()
	defer cancel()

	for _, subj := range permissionSubjects() {
		rt.Tracker.Status(subj)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Background(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(permsWatchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fmt.Println()
				if err := printStates(rt.Tracker.Snapshot()); err != nil {
					return err
				}
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runPermsReset(cmd *cobra.Command, args []string) error {
	subj, err := model.ParseSubject(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := permission.NewRemediationStore(cfg.Permissions.StorePath).Reset(subj); err != nil {
		return err
	}
	fmt.Printf("%s: automatic remediation will run again\n", subjectName(subj))
	return nil
}
