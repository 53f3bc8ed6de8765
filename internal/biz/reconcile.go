package biz

import (
	"context"
	"fmt"
	"slices"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"

	"slurm-service/internal/batch"
	"slurm-service/internal/constants"
	slurmErrors "slurm-service/internal/errors"
	"slurm-service/internal/metrics"
)

// AllocationUseCase 分配生命周期对账：账户层级、资源限额与用户关联
type AllocationUseCase struct {
	repo      AllocationRepo
	directory DirectoryRepo
	client    batch.Client
	locker    Locker
	conf      *SlurmConfig
	log       *log.Helper
	metrics   *metrics.SlurmMetrics
}

// NewAllocationUseCase 创建分配 UseCase
func NewAllocationUseCase(
	repo AllocationRepo,
	directory DirectoryRepo,
	client batch.Client,
	locker Locker,
	conf *SlurmConfig,
	logger log.Logger,
) *AllocationUseCase {
	return &AllocationUseCase{
		repo:      repo,
		directory: directory,
		client:    client,
		locker:    locker,
		conf:      conf,
		log:       log.NewHelper(log.With(logger, "module", "biz/allocation")),
		metrics:   metrics.GetMetrics(),
	}
}

// GetAllocation 获取分配，不存在时返回 nil, nil
func (uc *AllocationUseCase) GetAllocation(ctx context.Context, id string) (*Allocation, error) {
	return uc.repo.GetAllocation(ctx, id)
}

// RegisterAllocation 登记平台侧分配
func (uc *AllocationUseCase) RegisterAllocation(ctx context.Context, allocation *Allocation) error {
	allocation.IsActive = true
	allocation.State = constants.AllocationStateOK
	return uc.repo.CreateAllocation(ctx, allocation)
}

// CreateAllocation 先确保客户、项目账户存在，再创建分配账户，
// 推送初始限额并为所有有权用户建立关联。重复调用不会重复创建账户。
func (uc *AllocationUseCase) CreateAllocation(ctx context.Context, allocation *Allocation) error {
	customerAccount := uc.conf.CustomerAccount(allocation.CustomerID)
	projectAccount := uc.conf.ProjectAccount(allocation.ProjectID)
	allocationAccount := uc.conf.AllocationAccount(allocation.ID)

	if err := uc.ensureAccount(ctx, constants.TierCustomer, customerAccount,
		allocation.CustomerName, customerAccount, ""); err != nil {
		return err
	}
	if err := uc.ensureAccount(ctx, constants.TierProject, projectAccount,
		allocation.ProjectName, customerAccount, customerAccount); err != nil {
		return err
	}
	if err := uc.ensureAccount(ctx, constants.TierAllocation, allocationAccount,
		allocation.Name, projectAccount, projectAccount); err != nil {
		return err
	}

	if err := uc.client.SetResourceLimits(ctx, allocationAccount, allocation.Limits); err != nil {
		return fmt.Errorf("set limits of %s: %w", allocationAccount, err)
	}

	usernames, err := uc.directory.ListAllocationUsernames(ctx, allocation)
	if err != nil {
		return fmt.Errorf("list users of allocation %s: %w", allocation.ID, err)
	}
	for _, username := range usernames {
		if err := uc.AddUser(ctx, allocation, username); err != nil {
			return err
		}
	}

	uc.log.WithContext(ctx).Infof("allocation %s provisioned as %s with %d users", allocation.ID, allocationAccount, len(usernames))
	return nil
}

// ensureAccount 账户不存在时创建
func (uc *AllocationUseCase) ensureAccount(ctx context.Context, tier, name, description, organization, parent string) error {
	account, err := uc.client.GetAccount(ctx, name)
	if err != nil {
		return fmt.Errorf("get account %s: %w", name, err)
	}
	if account != nil {
		return nil
	}
	if err := uc.client.CreateAccount(ctx, name, description, organization, parent); err != nil {
		return fmt.Errorf("create account %s: %w", name, err)
	}
	uc.metrics.AccountOpsTotal.WithLabelValues(constants.OpCreate, tier).Inc()
	return nil
}

// deleteAccount 账户存在时删除
func (uc *AllocationUseCase) deleteAccount(ctx context.Context, tier, name string) error {
	account, err := uc.client.GetAccount(ctx, name)
	if err != nil {
		return fmt.Errorf("get account %s: %w", name, err)
	}
	if account == nil {
		return nil
	}
	if err := uc.client.DeleteAccount(ctx, name); err != nil {
		return fmt.Errorf("delete account %s: %w", name, err)
	}
	uc.metrics.AccountOpsTotal.WithLabelValues(constants.OpDelete, tier).Inc()
	return nil
}

// DeleteAllocation 删除分配账户；项目没有其他分配时删除项目账户，
// 客户也随之没有分配时再删除客户账户。远端清理完成后删除平台记录。
func (uc *AllocationUseCase) DeleteAllocation(ctx context.Context, allocation *Allocation) error {
	if err := uc.deleteAccount(ctx, constants.TierAllocation, uc.conf.AllocationAccount(allocation.ID)); err != nil {
		return err
	}

	remaining, err := uc.repo.CountByProject(ctx, allocation.ProjectID, allocation.ID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := uc.deleteAccount(ctx, constants.TierProject, uc.conf.ProjectAccount(allocation.ProjectID)); err != nil {
			return err
		}

		remaining, err = uc.repo.CountByCustomer(ctx, allocation.CustomerID, allocation.ID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := uc.deleteAccount(ctx, constants.TierCustomer, uc.conf.CustomerAccount(allocation.CustomerID)); err != nil {
				return err
			}
		}
	}

	return uc.repo.DeleteAllocation(ctx, allocation.ID)
}

// AddUser 关联不存在时创建
func (uc *AllocationUseCase) AddUser(ctx context.Context, allocation *Allocation, username string) error {
	account := uc.conf.AllocationAccount(allocation.ID)
	association, err := uc.client.GetAssociation(ctx, username, account)
	if err != nil {
		return fmt.Errorf("get association %s/%s: %w", username, account, err)
	}
	if association != nil {
		return nil
	}
	if err := uc.client.CreateAssociation(ctx, username, account, uc.conf.DefaultAccount); err != nil {
		return fmt.Errorf("create association %s/%s: %w", username, account, err)
	}
	uc.metrics.AssociationOpsTotal.WithLabelValues(constants.OpCreate).Inc()
	return nil
}

// DeleteUser 关联存在时删除
func (uc *AllocationUseCase) DeleteUser(ctx context.Context, allocation *Allocation, username string) error {
	account := uc.conf.AllocationAccount(allocation.ID)
	association, err := uc.client.GetAssociation(ctx, username, account)
	if err != nil {
		return fmt.Errorf("get association %s/%s: %w", username, account, err)
	}
	if association == nil {
		return nil
	}
	if err := uc.client.DeleteAssociation(ctx, username, account); err != nil {
		return fmt.Errorf("delete association %s/%s: %w", username, account, err)
	}
	uc.metrics.AssociationOpsTotal.WithLabelValues(constants.OpDelete).Inc()
	return nil
}

// CancelAllocation 把限额压到当前用量并标记为停用。
// 押金不随之下发：Moab 的 deposit 是追加资金而非设定上限。
func (uc *AllocationUseCase) CancelAllocation(ctx context.Context, allocation *Allocation) error {
	limits := allocation.Usage
	limits.Deposit = nil
	if err := uc.client.SetResourceLimits(ctx, uc.conf.AllocationAccount(allocation.ID), limits); err != nil {
		return fmt.Errorf("freeze limits of allocation %s: %w", allocation.ID, err)
	}
	if err := uc.repo.UpdateLimits(ctx, allocation.ID, allocation.Limits.Overlay(limits)); err != nil {
		return err
	}
	allocation.IsActive = false
	return uc.repo.SetActive(ctx, allocation.ID, false)
}

// MarkErred 记录失败原因
func (uc *AllocationUseCase) MarkErred(ctx context.Context, id string, cause error) error {
	return uc.repo.SetState(ctx, id, constants.AllocationStateErred, cause.Error())
}

// MarkOK 清除失败状态
func (uc *AllocationUseCase) MarkOK(ctx context.Context, id string) error {
	return uc.repo.SetState(ctx, id, constants.AllocationStateOK, "")
}

// OnUserGranted 用户在 scope 上获得角色：加入范围内所有分配
func (uc *AllocationUseCase) OnUserGranted(ctx context.Context, scope Scope, username string) error {
	allocations, err := uc.repo.ListAllocationsByScope(ctx, scope)
	if err != nil {
		return err
	}
	for _, allocation := range allocations {
		err := uc.withAllocationLock(ctx, allocation.ID, func(allocation *Allocation) error {
			return uc.AddUser(ctx, allocation, username)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// OnUserRevoked 用户在 scope 上失去角色：从范围内分配中移除，
// 仍通过其他范围获得授权的分配保留。
func (uc *AllocationUseCase) OnUserRevoked(ctx context.Context, scope Scope, username string) error {
	allocations, err := uc.repo.ListAllocationsByScope(ctx, scope)
	if err != nil {
		return err
	}
	for _, allocation := range allocations {
		err := uc.withAllocationLock(ctx, allocation.ID, func(allocation *Allocation) error {
			authorized, err := uc.directory.ListAllocationUsernames(ctx, allocation)
			if err != nil {
				return err
			}
			if slices.Contains(authorized, username) {
				return nil
			}
			return uc.DeleteUser(ctx, allocation, username)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// withAllocationLock 持有分配锁后重新读取分配再执行 fn，分配已被删除时跳过
func (uc *AllocationUseCase) withAllocationLock(ctx context.Context, id string, fn func(*Allocation) error) error {
	unlock, err := uc.locker.Lock(ctx, constants.RedisKeyAllocationLock+id)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("lock allocation %s failed: %v", id, err)
		return pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeAllocationLockFailed)
	}
	defer unlock()

	allocation, err := uc.repo.GetAllocation(ctx, id)
	if err != nil {
		return err
	}
	if allocation == nil {
		uc.log.WithContext(ctx).Infof("allocation %s removed concurrently, skip", id)
		return nil
	}
	return fn(allocation)
}

// GrantRole 记录成员关系并同步关联；用户尚无档案时只记录
func (uc *AllocationUseCase) GrantRole(ctx context.Context, scope Scope, userID string) error {
	if err := uc.directory.AddMember(ctx, scope, userID); err != nil {
		return err
	}
	username, err := uc.directory.GetUsername(ctx, userID)
	if err != nil {
		return err
	}
	if username == "" {
		uc.log.WithContext(ctx).Debugf("user %s has no profile, skip association", userID)
		return nil
	}
	return uc.OnUserGranted(ctx, scope, username)
}

// RevokeRole 删除成员关系并同步关联
func (uc *AllocationUseCase) RevokeRole(ctx context.Context, scope Scope, userID string) error {
	if err := uc.directory.RemoveMember(ctx, scope, userID); err != nil {
		return err
	}
	username, err := uc.directory.GetUsername(ctx, userID)
	if err != nil {
		return err
	}
	if username == "" {
		return nil
	}
	return uc.OnUserRevoked(ctx, scope, username)
}

// OnProfileCreated 新档案：加入用户所有范围下的分配
func (uc *AllocationUseCase) OnProfileCreated(ctx context.Context, userID, username string) error {
	if err := uc.directory.SaveProfile(ctx, userID, username); err != nil {
		return err
	}
	scopes, err := uc.directory.ListUserScopes(ctx, userID)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		if err := uc.OnUserGranted(ctx, scope, username); err != nil {
			return err
		}
	}
	return nil
}

// OnProfileDeleted 档案删除：从用户所有范围下的分配中移除
func (uc *AllocationUseCase) OnProfileDeleted(ctx context.Context, userID, username string) error {
	if err := uc.directory.DeleteProfile(ctx, userID); err != nil {
		return err
	}
	scopes, err := uc.directory.ListUserScopes(ctx, userID)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		if err := uc.OnUserRevoked(ctx, scope, username); err != nil {
			return err
		}
	}
	return nil
}
