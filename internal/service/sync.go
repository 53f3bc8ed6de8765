package service

import (
	"context"

	"slurm-service/internal/biz"
	"slurm-service/internal/constants"
	slurmErrors "slurm-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// SyncReply 全量对账结果
type SyncReply struct {
	*biz.SyncResult
}

// SyncUsageReply 用量同步结果
type SyncUsageReply struct {
	Success bool `json:"success"`
}

// SyncService 全量对账与用量同步，HTTP 与定时任务共用，同一时间只运行一个
type SyncService struct {
	sync   *biz.SyncUseCase
	usage  *biz.UsageUseCase
	locker biz.Locker
	log    *log.Helper
}

// NewSyncService 创建 SyncService
func NewSyncService(sync *biz.SyncUseCase, usage *biz.UsageUseCase, locker biz.Locker, logger log.Logger) *SyncService {
	return &SyncService{
		sync:   sync,
		usage:  usage,
		locker: locker,
		log:    log.NewHelper(log.With(logger, "module", "service/sync")),
	}
}

// Sync 全量对账
func (s *SyncService) Sync(ctx context.Context) (*SyncReply, error) {
	unlock, err := s.locker.Lock(ctx, constants.RedisKeySyncLock)
	if err != nil {
		return nil, slurmErrors.ErrLockFailed(slurmErrors.ErrCodeSyncLockFailed, constants.RedisKeySyncLock, err)
	}
	defer unlock()

	result, err := s.sync.Sync(ctx)
	if err != nil {
		s.log.WithContext(ctx).Errorf("sync failed: %v", err)
		return nil, slurmErrors.FromError(err)
	}
	return &SyncReply{SyncResult: result}, nil
}

// SyncUsage 拉取全部分配用量
func (s *SyncService) SyncUsage(ctx context.Context) (*SyncUsageReply, error) {
	unlock, err := s.locker.Lock(ctx, constants.RedisKeySyncLock)
	if err != nil {
		return nil, slurmErrors.ErrLockFailed(slurmErrors.ErrCodeSyncLockFailed, constants.RedisKeySyncLock, err)
	}
	defer unlock()

	if err := s.usage.SyncUsage(ctx); err != nil {
		s.log.WithContext(ctx).Errorf("sync usage failed: %v", err)
		return nil, slurmErrors.FromError(err)
	}
	return &SyncUsageReply{Success: true}, nil
}
