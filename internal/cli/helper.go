package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/reaper/internal/app"
	"github.com/ppiankov/reaper/internal/config"
	"github.com/ppiankov/reaper/internal/denylist"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/helper"
	"github.com/ppiankov/reaper/internal/launchd"
	"github.com/ppiankov/reaper/internal/logging"
	"github.com/ppiankov/reaper/internal/proc"
)

// helperHashFile holds the hash of the plist written by "helper install".
const helperHashFile = "helper-plist.sha256"

var (
	helperSocket   string
	helperOwnerUID int
	helperBinary   string
	helperOutput   string

	serveSocket    string
	serveOwnerUID  int
	serveLogFile   string
	serveProtected string
)

func init() {
	rootCmd.AddCommand(helperCmd)
	helperCmd.AddCommand(newHelperServeCmd("serve"))
	helperCmd.AddCommand(helperPlistCmd)
	helperCmd.AddCommand(helperInstallCmd)
	helperCmd.AddCommand(helperUninstallCmd)
	helperCmd.AddCommand(helperPingCmd)

	for _, c := range []*cobra.Command{helperPlistCmd, helperInstallCmd} {
		c.Flags().StringVar(&helperBinary, "binary", "", "Absolute path of reaper-helper (default: next to this binary)")
		c.Flags().IntVar(&helperOwnerUID, "owner-uid", os.Getuid(), "Uid allowed to connect to the helper socket")
		c.Flags().StringVar(&helperSocket, "socket", "", "Helper socket path (default from config)")
	}
	helperPlistCmd.Flags().StringVarP(&helperOutput, "output", "o", "", "Write the plist here instead of stdout")
}

var helperCmd = &cobra.Command{
	Use:   "helper",
	Short: "Manage the privileged helper daemon",
	Long: `The helper runs as root under launchd and performs the elevated kill and
maintenance actions from reaper's catalog over a unix socket only the
installing user can open. Without it, elevated actions fall back to the
administrator password prompt.`,
}

// newHelperServeCmd builds the serve command. reaper-helper uses it as its
// root command.
func newHelperServeCmd(use string) *cobra.Command {
	cmd := &cobra.Command{
		Use:          use,
		Short:        "Serve elevated actions on the helper socket (run as root)",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return serveHelper(ctx, serveSocket, serveOwnerUID, serveLogFile, serveProtected)
		},
	}
	cmd.Flags().StringVar(&serveSocket, "socket", helper.DefaultSocket, "Unix socket to listen on")
	cmd.Flags().IntVar(&serveOwnerUID, "owner-uid", -1, "Uid that may connect; -1 leaves socket ownership alone")
	cmd.Flags().StringVar(&serveLogFile, "log-file", "", "Also log JSON to this file")
	cmd.Flags().StringVar(&serveProtected, "protected", "", "Additional protected-process list (YAML)")
	return cmd
}

// ExecuteHelper runs the standalone helper binary.
func ExecuteHelper() {
	root := newHelperServeCmd("reaper-helper")
	root.Version = Version
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveHelper(ctx context.Context, socket string, owner int, logFile, protected string) error {
	log, err := logging.New(logging.Options{Level: "info", File: logFile})
	if err != nil {
		return err
	}
	defer logging.Install(log)()

	cat, err := app.Catalog()
	if err != nil {
		return err
	}
	dl := denylist.NewDefault()
	if protected != "" {
		if dl, err = denylist.Load(protected); err != nil {
			return err
		}
	}
	table := proc.System{}
	srv, err := helper.New(helper.Config{
		Catalog:  cat,
		Direct:   &executor.Direct{Table: table, Signaler: table, Commands: executor.ExecCommand},
		Resolver: &proc.Resolver{Table: table, Denylist: dl, Bundles: proc.NewDefaultsBundles()},
		Version:  Version,
		Log:      log,
	})
	if err != nil {
		return err
	}
	lis, err := helper.Listen(socket, owner)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	log.Info("helper listening", zap.String("socket", socket), zap.Int("owner_uid", owner), zap.Int("uid", os.Getuid()))
	return srv.ServeOn(lis)
}

var helperPlistCmd = &cobra.Command{
	Use:   "plist",
	Short: "Render the LaunchDaemon plist for the helper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		plist, err := renderPlist(cfg)
		if err != nil {
			return err
		}
		if helperOutput == "" {
			fmt.Print(plist)
			return nil
		}
		return os.WriteFile(helperOutput, []byte(plist), 0o644)
	},
}

var helperInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Stage the helper plist and print the commands that install it",
	Long: `Writes the plist to a temporary file, records its hash so "reaper doctor" can
detect later modification, and prints the sudo commands that install and
start the daemon. Nothing runs as root on your behalf.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		plist, err := renderPlist(cfg)
		if err != nil {
			return err
		}
		tmp := filepath.Join(os.TempDir(), launchd.Label+".plist")
		if err := os.WriteFile(tmp, []byte(plist), 0o644); err != nil {
			return fmt.Errorf("stage plist: %w", err)
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return err
		}
		if err := launchd.RecordHash(tmp, filepath.Join(cfg.DataDir, helperHashFile)); err != nil {
			return err
		}
		fmt.Printf("Plist staged at %s. Run:\n\n  %s\n", tmp, strings.Join(launchd.InstallCommands(tmp), "\n  "))
		return nil
	},
}

var helperUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Print the commands that remove the helper",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("  %s\n", strings.Join(launchd.UninstallCommands(), "\n  "))
	},
}

var helperPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the helper answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		res, err := pingHelper(cmd.Context(), cfg.Elevation.Socket)
		if err != nil {
			return err
		}
		fmt.Printf("helper %s running as uid %d\n", res.Version, res.UID)
		return nil
	},
}

func pingHelper(ctx context.Context, socket string) (helper.PingResult, error) {
	c, err := helper.Dial(socket)
	if err != nil {
		return helper.PingResult{}, err
	}
	defer c.Close()
	if ctx == nil {
		ctx = context.Background()
	}
	return c.Ping(ctx)
}

func renderPlist(cfg *config.Config) (string, error) {
	bin := helperBinary
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate executable: %w", err)
		}
		bin = filepath.Join(filepath.Dir(exe), "reaper-helper")
	}
	socket := helperSocket
	if socket == "" {
		socket = cfg.Elevation.Socket
	}
	return launchd.HelperPlist(launchd.Options{Binary: bin, Socket: socket, OwnerUID: helperOwnerUID})
}
