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

// wireApp 初始化应用
func wireApp(*conf.Bootstrap, log.Logger) (*CronApp, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		wire.Struct(new(CronApp), "*"),
	))
}
