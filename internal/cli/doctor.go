package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reaper/internal/audit"
	"github.com/ppiankov/reaper/internal/config"
	"github.com/ppiankov/reaper/internal/launchd"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Binary location and version.
	execPath, _ := os.Executable()
	if execPath != "" {
		checks = append(checks, checkResult{label: "reaper binary", ok: true, detail: fmt.Sprintf("%s (%s)", execPath, Version)})
	} else {
		checks = append(checks, checkResult{label: "reaper binary", ok: false, detail: "cannot determine executable path"})
	}

	// 2. Platform.
	checks = append(checks, checkResult{
		label:  "platform",
		ok:     runtime.GOOS == "darwin",
		detail: runtime.GOOS + "/" + runtime.GOARCH,
		fix:    "reaper drives macOS services and only works on darwin",
	})

	// 3. Config.
	cfg, err := loadConfig()
	if err != nil {
		checks = append(checks, checkResult{label: "config", ok: false, detail: err.Error(), fix: "reaper init --force"})
		return printChecks(checks)
	}
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		checks = append(checks, checkResult{label: "config", ok: true, detail: path})
	} else {
		checks = append(checks, checkResult{label: "config", ok: false, detail: "missing, using defaults", fix: "reaper init"})
	}

	// 4. Audit chain.
	if res := audit.Verify(cfg.Audit.Path); res.Valid {
		checks = append(checks, checkResult{label: "audit log", ok: true, detail: fmt.Sprintf("%d entries, chain intact", res.Lines)})
	} else {
		checks = append(checks, checkResult{label: "audit log", ok: false,
			detail: fmt.Sprintf("broken at line %d: %s", res.ErrorLine, res.Error), fix: "reaper audit export, then reaper audit clear --yes"})
	}

	// 5. Elevation.
	checks = append(checks, elevationChecks(cmd.Context(), cfg)...)

	return printChecks(checks)
}

func elevationChecks(ctx context.Context, cfg *config.Config) []checkResult {
	if cfg.Elevation.Mode == config.ElevationDisabled {
		return []checkResult{{label: "elevation", ok: true, detail: "disabled"}}
	}
	if cfg.Elevation.Mode == config.ElevationPrompt {
		return []checkResult{{label: "elevation", ok: true, detail: "administrator prompt"}}
	}

	var checks []checkResult
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := pingHelper(ctx, cfg.Elevation.Socket)
	switch {
	case err == nil:
		checks = append(checks, checkResult{label: "helper", ok: true,
			detail: fmt.Sprintf("%s at %s (uid %d)", res.Version, cfg.Elevation.Socket, res.UID)})
	case cfg.Elevation.Mode == config.ElevationAuto:
		checks = append(checks, checkResult{label: "helper", ok: true,
			detail: "not running, elevated actions will use the administrator prompt"})
	default:
		checks = append(checks, checkResult{label: "helper", ok: false, detail: err.Error(), fix: "reaper helper install"})
	}

	if _, err := os.Stat(launchd.PlistPath); err == nil {
		if warn := launchd.CheckIntegrity(launchd.PlistPath, filepath.Join(cfg.DataDir, helperHashFile)); warn != "" {
			checks = append(checks, checkResult{label: "helper plist", ok: false, detail: warn, fix: "reaper helper install"})
		} else {
			checks = append(checks, checkResult{label: "helper plist", ok: true, detail: launchd.PlistPath})
		}
	}
	return checks
}

func printChecks(checks []checkResult) error {
	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Println(line)
	}

	if hasFailures {
		fmt.Println()
		fmt.Println("Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Println()
	fmt.Println("All checks passed.")
	return nil
}
