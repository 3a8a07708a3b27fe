// Command rsemgr moves, inspects and renames files on storage elements.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/rsemgr/internal/logger"
	"github.com/marmos91/rsemgr/pkg/config"
	"github.com/marmos91/rsemgr/pkg/rsemgr"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string

	// cfg is loaded once by the root command's PersistentPreRunE
	cfg *config.Config
)

// errPartialFailure makes the process exit non-zero after printing a
// result table with failed items.
var errPartialFailure = errors.New("one or more items failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd().ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		if !errors.Is(err, errPartialFailure) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rsemgr",
		Short: "Storage element protocol manager",
		Long: `rsemgr executes bulk download, upload, delete, exists and rename calls
against storage elements (RSEs), choosing a protocol by network domain and
priority and translating logical file names to physical locations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.Logging.Level = logLevel
			}
			if err := logger.Configure(loaded.Logging.Level, loaded.Logging.Format, loaded.Logging.Output); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default $XDG_CONFIG_HOME/rsemgr/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		downloadCmd(),
		uploadCmd(),
		deleteCmd(),
		existsCmd(),
		renameCmd(),
		lfn2pfnCmd(),
		rsesCmd(),
	)
	return root
}

// openManager builds the repository, the metrics server (when enabled) and
// the manager. The returned cleanup must be called once the command is done.
func openManager(ctx context.Context) (*rsemgr.Manager, func(), error) {
	repo, err := config.NewRepository(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	m := config.InitializeMetrics(cfg)

	serverCtx, cancelServer := context.WithCancel(ctx)
	if m.Server != nil {
		go func() {
			if err := m.Server.Start(serverCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	cleanup := func() {
		cancelServer()
		if err := repo.Close(); err != nil {
			logger.Warn("Failed to close RSE repository: %v", err)
		}
	}

	mgr, err := config.NewManager(ctx, cfg, repo, m.Manager)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return mgr, cleanup, nil
}
