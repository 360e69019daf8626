package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/reaper/internal/config"
	"github.com/ppiankov/reaper/internal/denylist"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap reaper configuration",
	Long: `Creates ~/.reaper/ with a default config.yaml and an empty protected.yaml.

protected.yaml can only ADD process names, bundle ids and paths to the
builtin protected set; system processes stay protected whatever it says.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	var created []string

	if wrote, err := writeConfigIfMissing(path); err != nil {
		return err
	} else if wrote {
		created = append(created, path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	content, err := defaultProtectedYAML()
	if err != nil {
		return fmt.Errorf("generate protected list: %w", err)
	}
	if wrote, err := writeIfMissing(cfg.Protected.Path, content); err != nil {
		return err
	} else if wrote {
		created = append(created, cfg.Protected.Path)
	}

	fmt.Println("reaper init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, p := range created {
			fmt.Printf("  %s\n", p)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	fmt.Println("Verify:")
	fmt.Println("  reaper doctor")
	fmt.Println()
	fmt.Println("Optional privileged helper (avoids a password prompt per elevated kill):")
	fmt.Println("  reaper helper install")
	return nil
}

func writeConfigIfMissing(path string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := config.WriteDefault(path, true); err != nil {
		return false, err
	}
	return true, nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultProtectedYAML generates a commented, empty extension file.
func defaultProtectedYAML() (string, error) {
	data, err := yaml.Marshal(denylist.Patterns{Names: []string{}, BundleIDs: []string{}, Paths: []string{}})
	if err != nil {
		return "", err
	}
	header := "# reaper protected processes, in addition to the builtin set.\n" +
		"# names: process names (case-insensitive).\n" +
		"# bundle_ids: application bundle identifiers.\n" +
		"# paths: executable path globs, e.g. /opt/corp/bin/*\n" +
		"# Changes are picked up while reaper runs.\n"
	return header + string(data), nil
}
