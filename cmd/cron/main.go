package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slurm-service/internal/conf"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

// 默认调度：每小时第 5 分钟拉取用量，每天 03:00 全量对账
const (
	defaultUsageSyncSpec = "0 5 * * * *"
	defaultFullSyncSpec  = "0 0 3 * * *"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	loggerInstance := logger.NewLogger(&logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/slurm-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	})
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "slurm-cron",
	)
	logHelper := log.NewHelper(loggerInstance)

	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	usageSpec, fullSpec := defaultUsageSyncSpec, defaultFullSyncSpec
	if bc.Cron != nil {
		if bc.Cron.UsageSync != "" {
			usageSpec = bc.Cron.UsageSync
		}
		if bc.Cron.FullSync != "" {
			fullSpec = bc.Cron.FullSync
		}
	}

	// 秒级调度；上一次未结束时跳过本次
	cronScheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	_, err = cronScheduler.AddFunc(usageSpec, func() {
		logHelper.Info("[CRON] Starting usage sync...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		if _, err := app.sync.SyncUsage(ctx); err != nil {
			logHelper.Errorf("[CRON] Usage sync failed: %v", err)
			return
		}
		logHelper.Info("[CRON] Finished usage sync")
	})
	if err != nil {
		logHelper.Errorf("Failed to add usage sync job: %v", err)
	}

	_, err = cronScheduler.AddFunc(fullSpec, func() {
		logHelper.Info("[CRON] Starting full synchronization...")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		reply, err := app.sync.Sync(ctx)
		if err != nil {
			logHelper.Errorf("[CRON] Full synchronization failed: %v", err)
			return
		}
		if reply.Skipped {
			logHelper.Info("[CRON] No allocations, synchronization skipped")
			return
		}
		logHelper.Infof("[CRON] Finished full synchronization: created=%d, deleted=%d, associations +%d -%d",
			len(reply.Created), len(reply.Deleted), reply.AssociationsCreated, reply.AssociationsDeleted)
	})
	if err != nil {
		logHelper.Errorf("Failed to add full synchronization job: %v", err)
	}

	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Infof("  - Usage sync: %s", usageSpec)
	logHelper.Infof("  - Full synchronization: %s", fullSpec)
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
