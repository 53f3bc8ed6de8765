package main

import "slurm-service/internal/service"

// CronApp Cron 应用结构
type CronApp struct {
	sync *service.SyncService
}
