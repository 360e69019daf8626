package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/browser"
	"github.com/ppiankov/reaper/internal/model"
)

func init() {
	rootCmd.AddCommand(tabsCmd)
	tabsCmd.AddCommand(tabsListCmd)
	tabsCmd.AddCommand(tabsCloseCmd)
	tabsCmd.AddCommand(tabsCloseAllCmd)
}

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "Inspect and close browser tabs",
	Long:  "Drives Safari, Chrome, Edge, Brave and Arc over Apple Events.\nThe first use of each browser asks for Automation consent.",
}

var tabsListCmd = &cobra.Command{
	Use:   "list <browser>",
	Short: "List open tabs",
	Args:  cobra.ExactArgs(1),
	RunE:  runTabsList,
}

var tabsCloseCmd = &cobra.Command{
	Use:   "close <browser> <window> <tab>",
	Short: "Close one tab by its 1-based window and tab index",
	Args:  cobra.ExactArgs(3),
	RunE:  runTabsClose,
}

var tabsCloseAllCmd = &cobra.Command{
	Use:   "close-all <browser> <window>",
	Short: "Close every tab of one window",
	Args:  cobra.ExactArgs(2),
	RunE:  runTabsCloseAll,
}

func controllerFor(controllers map[browser.Browser]*browser.Controller, name string) (*browser.Controller, error) {
	t, err := browser.Lookup(name)
	if err != nil {
		return nil, err
	}
	c, ok := controllers[t.Browser]
	if !ok {
		return nil, fmt.Errorf("no controller for %s", t.DisplayName)
	}
	return c, nil
}

func parseIndex(what, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s index %q", what, s)
	}
	return n, nil
}

func runTabsList(cmd *cobra.Command, args []string) error {
	rt, closeRT, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRT()
	ctx, cancel := signalContext()
	defer cancel()

	c, err := controllerFor(rt.Browsers, args[0])
	if err != nil {
		return err
	}
	running, err := c.Running(ctx)
	if err != nil {
		return fmt.Errorf("%s", model.UserMessage(err))
	}
	if !running {
		fmt.Printf("%s is not running\n", c.Target().DisplayName)
		return nil
	}
	tabs, err := c.EnumerateTabs(ctx)
	if err != nil {
		return fmt.Errorf("%s", model.UserMessage(err))
	}
	if jsonOutput {
		return printJSON(tabs)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WIN\tTAB\tTITLE\tURL")
	for _, t := range tabs {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", t.Window, t.Index, truncate(t.Title, 50), truncate(t.URL, 70))
	}
	return w.Flush()
}

func runTabsClose(cmd *cobra.Command, args []string) error {
	window, err := parseIndex("window", args[1])
	if err != nil {
		return err
	}
	tab, err := parseIndex("tab", args[2])
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

	c, err := controllerFor(rt.Browsers, args[0])
	if err != nil {
		return err
	}
	if err := c.CloseTab(ctx, window, tab); err != nil {
		return fmt.Errorf("%s", model.UserMessage(err))
	}
	fmt.Printf("✓ closed %s window %d tab %d\n", c.Target().DisplayName, window, tab)
	return nil
}

func runTabsCloseAll(cmd *cobra.Command, args []string) error {
	window, err := parseIndex("window", args[1])
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

	c, err := controllerFor(rt.Browsers, args[0])
	if err != nil {
		return err
	}
	if err := c.CloseAllTabs(ctx, window); err != nil {
		return fmt.Errorf("%s", model.UserMessage(err))
	}
	fmt.Printf("✓ closed every tab of %s window %d\n", c.Target().DisplayName, window)
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
