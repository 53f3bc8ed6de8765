//go:build wireinject
// +build wireinject

package main

import (
	"slurm-service/internal/biz"
	"slurm-service/internal/conf"
	"slurm-service/internal/data"
	"slurm-service/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireSyncService 构造同步服务（连接数据库、Redis 与记账后端）
func wireSyncService(*conf.Bootstrap, log.Logger) (*service.SyncService, func(), error) {
	panic(wire.Build(data.ProviderSet, biz.ProviderSet, service.ProviderSet))
}
