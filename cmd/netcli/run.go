package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/netsession/internal/config"
	"github.com/sshcollectorpro/netsession/internal/database"
	"github.com/sshcollectorpro/netsession/internal/inventory"
	"github.com/sshcollectorpro/netsession/internal/model"
	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run <inventory.yaml>",
	Short: "Run commands on every device of an inventory file",
	Long: `Log in to every device listed in the inventory and run its commands.

Examples:
  netcli run inventory.yaml
  netcli run inventory.yaml -o json --history
  netcli run inventory.yaml --concurrency 16 --archive`,
	Args: cobra.ExactArgs(1),
	RunE: runInventory,
}

var (
	runConcurrency int
	runHistory     bool
	runArchive     bool
	runMode        string
)

func init() {
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Maximum devices in flight (default from config)")
	runCmd.Flags().BoolVar(&runHistory, "history", false, "Persist task and command logs to sqlite")
	runCmd.Flags().BoolVar(&runArchive, "archive", false, "Archive raw outputs to the configured storage")
	runCmd.Flags().StringVar(&runMode, "mode", "", "I/O mode: blocking or suspend")
}

func runInventory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := inventory.Load(args[0])
	if err != nil {
		return err
	}
	if runConcurrency > 0 {
		req.Concurrency = runConcurrency
	}
	if runMode != "" {
		req.Mode = runMode
	}
	if cmd.Flags().Changed("archive") {
		req.Archive = &runArchive
	}

	res, err := execute(cfg, req, runHistory)
	if res != nil {
		if perr := printValue(cmd.OutOrStdout(), res, func(w io.Writer) { printBatchText(w, res) }); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if res.Status != model.TaskStatusSuccess {
		return fmt.Errorf("task %s %s: %d of %d devices failed", res.TaskID, res.Status, res.Failed, len(res.Devices))
	}
	return nil
}

// execute 组装执行器并运行批量请求，收到中断信号时取消
func execute(cfg *config.Config, req *service.BatchRequest, history bool) (*service.BatchResult, error) {
	ctx, cancel := signalContext()
	defer cancel()

	dispatcher := service.NewDispatcher(cfg)
	pool := service.NewPool(dispatcher, cfg.Pool)
	defer pool.Close()

	opts := []service.ExecutorOption{service.WithStorage(service.NewStorageWriter(cfg.Storage))}
	if history {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			return nil, err
		}
		defer database.Close()
		opts = append(opts, service.WithHistory(service.NewHistory(database.GetDB())))
	} else {
		cfg.Batch.PersistHistory = false
	}
	res, err := service.NewExecutor(cfg, pool, opts...).Execute(ctx, req)
	if errors.Is(err, context.Canceled) {
		logger.Warn("Interrupted, remaining devices cancelled")
	}
	return res, err
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
