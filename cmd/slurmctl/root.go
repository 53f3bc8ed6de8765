package main

import (
	"fmt"
	"os"

	"slurm-service/internal/batch"
	"slurm-service/internal/conf"
	"slurm-service/internal/data"
	"slurm-service/internal/service"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cobra"
)

// app 命令共用的依赖，按需构造：只读远端的命令不连接数据库
type app struct {
	confPath  string
	verbose   bool
	newClient func(*conf.Bootstrap, log.Logger) (batch.Client, error)
	newSync   func(*conf.Bootstrap, log.Logger) (*service.SyncService, func(), error)
}

func newApp() *app {
	return &app{
		newClient: data.NewBatchClient,
		newSync:   wireSyncService,
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "slurmctl",
		Short:         "Inspect and reconcile the SLURM/Moab accounting backend",
		Long:          "slurmctl lists accounts, associations and usage on the configured accounting backend, and runs the same synchronization jobs as the cron binary.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&a.confPath, "conf", "c", "configs/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log remote commands")

	rootCmd.AddCommand(
		newAccountsCmd(a),
		newAssociationsCmd(a),
		newReportCmd(a),
		newSyncCmd(a),
		newSyncUsageCmd(a),
	)
	return rootCmd
}

func (a *app) logger() log.Logger {
	level := log.LevelWarn
	if a.verbose {
		level = log.LevelDebug
	}
	return log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(level))
}

func (a *app) config() (*conf.Bootstrap, error) {
	c := config.New(config.WithSource(file.NewSource(a.confPath)))
	defer c.Close()

	if err := c.Load(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", a.confPath, err)
	}
	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", a.confPath, err)
	}
	return &bc, nil
}

func (a *app) client() (batch.Client, error) {
	bc, err := a.config()
	if err != nil {
		return nil, err
	}
	return a.newClient(bc, a.logger())
}

func (a *app) syncService() (*service.SyncService, func(), error) {
	bc, err := a.config()
	if err != nil {
		return nil, nil, err
	}
	return a.newSync(bc, a.logger())
}
