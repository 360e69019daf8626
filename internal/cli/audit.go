package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/audit"
)

var (
	tailLines      int
	tailSession    string
	tailCapability string
	exportOut      string
	clearYes       bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditImportCheckCmd)
	auditCmd.AddCommand(auditClearCmd)
	auditCmd.AddCommand(auditPruneCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().StringVar(&tailSession, "session", "", "Only records of this session")
	auditTailCmd.Flags().StringVar(&tailCapability, "capability", "", "Only records of this capability id")
	auditExportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write the export here instead of stdout")
	auditClearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm deleting every record")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying, inspecting, exporting and clearing the hash-chained audit log.\nThe log path defaults to the one in the config.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit log as a JSON document",
	Args:  cobra.NoArgs,
	RunE:  runAuditExport,
}

var auditImportCheckCmd = &cobra.Command{
	Use:   "import-check <file>",
	Short: "Check that a file is a readable audit export",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditImportCheck,
}

var auditClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every record and restart the chain",
	Args:  cobra.NoArgs,
	RunE:  runAuditClear,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop records older than the retention window",
	Args:  cobra.NoArgs,
	RunE:  runAuditPrune,
}

// auditPath returns args[0] if given, else the configured log.
func auditPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Audit.Path, nil
}

func openAudit() (*audit.Log, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return audit.Open(cfg.Audit.Path, audit.WithRetention(cfg.Retention()))
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	recs, err := audit.ReadFile(path, audit.Filter{
		SessionID:    tailSession,
		CapabilityID: tailCapability,
		Last:         tailLines,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(recs)
	}
	for _, r := range recs {
		fmt.Print(audit.FormatRecord(r))
	}
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	l, err := openAudit()
	if err != nil {
		return err
	}
	defer l.Close()

	data, err := l.Export()
	if err != nil {
		return err
	}
	if exportOut == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(exportOut, data, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("Exported to %s\n", exportOut)
	return nil
}

func runAuditImportCheck(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	doc, err := audit.ParseExport(data)
	if err != nil {
		return err
	}
	fmt.Printf("OK: version %d, %d records, exported %s\n", doc.Version, len(doc.Records), doc.ExportedAt)
	return nil
}

func runAuditClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return fmt.Errorf("refusing to clear the audit log without --yes")
	}
	l, err := openAudit()
	if err != nil {
		return err
	}
	defer l.Close()
	if err := l.Clear(); err != nil {
		return err
	}
	fmt.Printf("Cleared %s\n", l.Path())
	return nil
}

func runAuditPrune(cmd *cobra.Command, args []string) error {
	l, err := openAudit()
	if err != nil {
		return err
	}
	defer l.Close()
	n, err := l.Prune(time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d records older than the retention window\n", n)
	return nil
}
