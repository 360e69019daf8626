package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/app"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List every action reaper can perform",
	Long:  "Prints the capability catalog: id, permission class, risk tier and operation kind.\nNothing outside this list ever reaches an executor.",
	Args:  cobra.NoArgs,
	RunE:  runCatalog,
}

type catalogRow struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Permission string   `json:"permission"`
	Risk       string   `json:"risk"`
	Kind       string   `json:"kind"`
	Elevated   bool     `json:"elevated"`
	Ladder     []string `json:"ladder,omitempty"`
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cat, err := app.Catalog()
	if err != nil {
		return err
	}
	var rows []catalogRow
	for _, c := range cat.All() {
		rows = append(rows, catalogRow{
			ID:         c.ID,
			Name:       c.DisplayName,
			Permission: c.Permission.String(),
			Risk:       c.Risk.String(),
			Kind:       c.Operation.Kind(),
			Elevated:   c.Elevated(),
			Ladder:     c.Ladder,
		})
	}
	if jsonOutput {
		return printJSON(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPERMISSION\tRISK\tKIND")
	for _, r := range rows {
		kind := r.Kind
		if len(r.Ladder) > 0 {
			kind = strings.Join(r.Ladder, " > ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Permission, r.Risk, kind)
	}
	return w.Flush()
}
