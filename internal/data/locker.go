package data

import (
	"context"
	"fmt"
	"time"

	"slurm-service/internal/biz"
	"slurm-service/internal/constants"
	"slurm-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// redsyncLocker 基于 redsync 的分布式锁，串行化同一分配上的操作
type redsyncLocker struct {
	sync    *redsync.Redsync
	expiry  time.Duration
	log     *log.Helper
	metrics *metrics.SlurmMetrics
}

// NewLocker 创建分布式锁（返回 biz.Locker 接口）
func NewLocker(sync *redsync.Redsync, conf *biz.SlurmConfig, logger log.Logger) biz.Locker {
	return &redsyncLocker{
		sync:    sync,
		expiry:  conf.LockExpiry,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Lock 获取锁，失败时返回错误
func (l *redsyncLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockStartTime := time.Now()
	mutex := l.sync.NewMutex(key, redsync.WithExpiry(l.expiry))
	if err := mutex.LockContext(ctx); err != nil {
		if l.metrics != nil {
			l.metrics.LockAcquireTotal.WithLabelValues(constants.ResultFailed).Inc()
			l.metrics.LockAcquireDuration.Observe(time.Since(lockStartTime).Seconds())
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if l.metrics != nil {
		l.metrics.LockAcquireTotal.WithLabelValues(constants.ResultSuccess).Inc()
		l.metrics.LockAcquireDuration.Observe(time.Since(lockStartTime).Seconds())
	}

	return func() {
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			l.log.Warnf("failed to release lock %s: ok=%v, error=%v", key, ok, err)
		}
	}, nil
}
