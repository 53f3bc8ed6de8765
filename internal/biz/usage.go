package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"slurm-service/internal/batch"
	"slurm-service/internal/constants"
	"slurm-service/internal/metrics"
	"slurm-service/internal/quota"
)

// UsageUseCase 用量拉取：更新分配用量、用户快照与项目/客户汇总
type UsageUseCase struct {
	repo      AllocationRepo
	usageRepo AllocationUsageRepo
	directory DirectoryRepo
	client    batch.Client
	conf      *SlurmConfig
	now       func() time.Time
	log       *log.Helper
	metrics   *metrics.SlurmMetrics
}

// NewUsageUseCase 创建用量 UseCase
func NewUsageUseCase(
	repo AllocationRepo,
	usageRepo AllocationUsageRepo,
	directory DirectoryRepo,
	client batch.Client,
	conf *SlurmConfig,
	logger log.Logger,
) *UsageUseCase {
	return &UsageUseCase{
		repo:      repo,
		usageRepo: usageRepo,
		directory: directory,
		client:    client,
		conf:      conf,
		now:       time.Now,
		log:       log.NewHelper(log.With(logger, "module", "biz/usage")),
		metrics:   metrics.GetMetrics(),
	}
}

// SyncUsage 一次远程调用拉取全部分配的用量
func (uc *UsageUseCase) SyncUsage(ctx context.Context) error {
	allocations, err := uc.repo.ListAllocations(ctx)
	if err != nil {
		return err
	}
	return uc.pull(ctx, allocations)
}

// PullAllocation 拉取单个分配的用量
func (uc *UsageUseCase) PullAllocation(ctx context.Context, allocation *Allocation) error {
	return uc.pull(ctx, []*Allocation{allocation})
}

// ListUsages 查询某月的用户用量快照
func (uc *UsageUseCase) ListUsages(ctx context.Context, allocationID string, year, month int) ([]*AllocationUsage, error) {
	return uc.usageRepo.ListUsages(ctx, allocationID, year, month)
}

func (uc *UsageUseCase) pull(ctx context.Context, allocations []*Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	startTime := time.Now()
	defer func() {
		uc.metrics.UsageSyncDuration.Observe(time.Since(startTime).Seconds())
	}()

	byAccount := make(map[string]*Allocation, len(allocations))
	accounts := make([]string, 0, len(allocations))
	for _, allocation := range allocations {
		name := uc.conf.AllocationAccount(allocation.ID)
		byAccount[name] = allocation
		accounts = append(accounts, name)
	}

	report, err := uc.client.GetUsageReport(ctx, accounts)
	if err != nil {
		uc.metrics.UsageSyncTotal.WithLabelValues(constants.ResultFailed).Inc()
		return fmt.Errorf("get usage report: %w", err)
	}

	now := uc.now()
	var failed int
	for account, usages := range report {
		allocation, ok := byAccount[account]
		if !ok {
			uc.log.WithContext(ctx).Warnf("usage report has unknown account %s, skip", account)
			uc.metrics.UsageSkippedTotal.Inc()
			continue
		}
		if err := uc.apply(ctx, allocation, usages, now); err != nil {
			uc.log.WithContext(ctx).Errorf("update usage of allocation %s: %v", allocation.ID, err)
			failed++
		}
	}

	if failed > 0 {
		uc.metrics.UsageSyncTotal.WithLabelValues(constants.ResultFailed).Inc()
		return fmt.Errorf("update usage of %d allocations failed", failed)
	}
	uc.metrics.UsageSyncTotal.WithLabelValues(constants.ResultSuccess).Inc()
	return nil
}

// apply 用账户总量覆盖分配用量；用量确有变化时才写库并刷新汇总。
// SLURM 额外保存每个用户的当月快照。
func (uc *UsageUseCase) apply(ctx context.Context, allocation *Allocation, usages map[string]quota.Quota, now time.Time) error {
	total, ok := usages[batch.TotalAccountUsage]
	if !ok {
		return nil
	}

	before := allocation.Usage
	after := before.Overlay(total)
	uc.publishAllocation(allocation.ID, after)

	if !before.Equal(after) {
		if err := uc.repo.UpdateUsage(ctx, allocation.ID, after); err != nil {
			return err
		}
		allocation.Usage = after
		uc.publishScope(ctx, Scope{Type: constants.TierProject, ID: allocation.ProjectID})
		uc.publishScope(ctx, Scope{Type: constants.TierCustomer, ID: allocation.CustomerID})
	}

	if uc.client.Backend() != batch.BackendSlurm {
		return nil
	}
	for username, usage := range usages {
		if username == batch.TotalAccountUsage {
			continue
		}
		userID, err := uc.directory.GetUserID(ctx, username)
		if err != nil {
			uc.log.WithContext(ctx).Warnf("lookup user %s: %v", username, err)
		}
		record := &AllocationUsage{
			AllocationID: allocation.ID,
			Username:     username,
			UserID:       userID,
			Year:         now.Year(),
			Month:        int(now.Month()),
			Usage:        usage,
		}
		if err := uc.usageRepo.UpsertUsage(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (uc *UsageUseCase) publishAllocation(id string, usage quota.Quota) {
	uc.metrics.AllocationUsage.WithLabelValues(id, constants.ResourceCPU).Set(float64(usage.CPUValue()))
	uc.metrics.AllocationUsage.WithLabelValues(id, constants.ResourceGPU).Set(float64(usage.GPUValue()))
	uc.metrics.AllocationUsage.WithLabelValues(id, constants.ResourceRAM).Set(float64(usage.RAMValue()))
	uc.metrics.AllocationUsage.WithLabelValues(id, constants.ResourceDeposit).Set(usage.DepositValue())
}

// publishScope 重新汇总范围内分配的用量；失败只记录日志
func (uc *UsageUseCase) publishScope(ctx context.Context, scope Scope) {
	total, err := uc.repo.SumUsage(ctx, scope)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("sum usage of %s %s: %v", scope.Type, scope.ID, err)
		return
	}
	uc.metrics.ScopeUsage.WithLabelValues(scope.Type, scope.ID, constants.ResourceCPU).Set(float64(total.CPUValue()))
	uc.metrics.ScopeUsage.WithLabelValues(scope.Type, scope.ID, constants.ResourceGPU).Set(float64(total.GPUValue()))
	uc.metrics.ScopeUsage.WithLabelValues(scope.Type, scope.ID, constants.ResourceRAM).Set(float64(total.RAMValue()))
	uc.metrics.ScopeUsage.WithLabelValues(scope.Type, scope.ID, constants.ResourceDeposit).Set(total.DepositValue())
}
