package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	reapermcp "github.com/ppiankov/reaper/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for UI and agent integration",
	Long: "Runs reaper as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes catalog, processes, terminate, tabs, maintenance, permissions and audit tools.\n" +
		"The permission poll loop and file watchers run alongside.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	rt, closeRT, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRT()

	ctx, cancel := signalContext()
	defer cancel()

	srv := reapermcp.New(rt, Version)
	fmt.Fprintf(os.Stderr, "reaper MCP server running on stdio (session %s)\n", rt.SessionID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Background(ctx) })
	g.Go(func() error {
		defer cancel()
		return srv.Run(ctx)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
