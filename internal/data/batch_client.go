package data

import (
	"context"

	"slurm-service/internal/batch"
	"slurm-service/internal/conf"
	slurmErrors "slurm-service/internal/errors"
	"slurm-service/internal/transport"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
)

const defaultPrivateKeyPath = "/etc/waldur/id_rsa"

// NewTransportOptions 从配置构造 SSH 连接参数
func NewTransportOptions(c *conf.Slurm) transport.Options {
	opts := transport.Options{
		Host:           c.Hostname,
		Port:           int(c.Port),
		Username:       c.Username,
		PrivateKeyPath: c.PrivateKeyPath,
		KnownHostsPath: c.KnownHostsPath,
		DialTimeout:    c.DialTimeout.AsDuration(),
		CommandTimeout: c.CommandTimeout.AsDuration(),
	}
	if opts.PrivateKeyPath == "" {
		opts.PrivateKeyPath = defaultPrivateKeyPath
	}
	return opts
}

// NewBatchClient 创建记账后端客户端（SLURM 或 Moab）
func NewBatchClient(c *conf.Bootstrap, logger log.Logger) (batch.Client, error) {
	if c.Slurm == nil || c.Slurm.Hostname == "" {
		return nil, pkgErrors.NewBizErrorWithLang(context.Background(), slurmErrors.ErrCodeBackendNotConfigured)
	}

	executor := transport.NewSSHExecutor(NewTransportOptions(c.Slurm), logger)
	client, err := batch.New(c.Slurm.Backend, executor,
		batch.WithSudo(c.Slurm.UseSudo),
		batch.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	log.NewHelper(logger).Infof("accounting backend %s via %s", client.Backend(), executor.Address())
	return client, nil
}
