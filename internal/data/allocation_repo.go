package data

import (
	"context"
	"errors"
	"fmt"

	"slurm-service/internal/biz"
	"slurm-service/internal/constants"
	"slurm-service/internal/data/model"
	slurmErrors "slurm-service/internal/errors"
	"slurm-service/internal/quota"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// allocationRepo 分配数据访问
type allocationRepo struct {
	data *Data
	log  *log.Helper
}

// NewAllocationRepo 创建分配 repo（返回 biz.AllocationRepo 接口）
func NewAllocationRepo(data *Data, logger log.Logger) biz.AllocationRepo {
	return &allocationRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toAllocationModel(a *biz.Allocation) *model.Allocation {
	return &model.Allocation{
		AllocationID: a.ID,
		Name:         a.Name,
		CustomerID:   a.CustomerID,
		CustomerName: a.CustomerName,
		ProjectID:    a.ProjectID,
		ProjectName:  a.ProjectName,
		CPULimit:     limitOr(a.Limits.CPU),
		GPULimit:     limitOr(a.Limits.GPU),
		RAMLimit:     limitOr(a.Limits.RAM),
		DepositLimit: a.Limits.Deposit,
		CPUUsage:     a.Usage.CPUValue(),
		GPUUsage:     a.Usage.GPUValue(),
		RAMUsage:     a.Usage.RAMValue(),
		DepositUsage: a.Usage.Deposit,
		IsActive:     a.IsActive,
		State:        a.State,
		ErrorMessage: a.ErrorMessage,
	}
}

func toAllocation(m *model.Allocation) *biz.Allocation {
	return &biz.Allocation{
		ID:           m.AllocationID,
		Name:         m.Name,
		CustomerID:   m.CustomerID,
		CustomerName: m.CustomerName,
		ProjectID:    m.ProjectID,
		ProjectName:  m.ProjectName,
		Limits: quota.Quota{
			CPU:     quota.Int(m.CPULimit),
			GPU:     quota.Int(m.GPULimit),
			RAM:     quota.Int(m.RAMLimit),
			Deposit: m.DepositLimit,
		},
		Usage: quota.Quota{
			CPU:     quota.Int(m.CPUUsage),
			GPU:     quota.Int(m.GPUUsage),
			RAM:     quota.Int(m.RAMUsage),
			Deposit: m.DepositUsage,
		},
		IsActive:     m.IsActive,
		State:        m.State,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// limitOr 缺省限额为 -1（不限制）
func limitOr(v *int64) int64 {
	if v == nil {
		return -1
	}
	return *v
}

func toAllocations(ms []*model.Allocation) []*biz.Allocation {
	result := make([]*biz.Allocation, 0, len(ms))
	for _, m := range ms {
		result = append(result, toAllocation(m))
	}
	return result
}

// CreateAllocation 创建分配
func (r *allocationRepo) CreateAllocation(ctx context.Context, a *biz.Allocation) error {
	if err := r.data.db.WithContext(ctx).Create(toAllocationModel(a)).Error; err != nil {
		r.log.Errorf("CreateAllocation failed: id=%s, error=%v", a.ID, err)
		return pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeAllocationCreateFailed)
	}
	return nil
}

// GetAllocation 获取分配
func (r *allocationRepo) GetAllocation(ctx context.Context, id string) (*biz.Allocation, error) {
	var m model.Allocation
	if err := r.data.db.WithContext(ctx).Where("allocation_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("GetAllocation failed: id=%s, error=%v", id, err)
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeAllocationGetFailed)
	}
	return toAllocation(&m), nil
}

// ListAllocations 列出全部分配
func (r *allocationRepo) ListAllocations(ctx context.Context) ([]*biz.Allocation, error) {
	var ms []*model.Allocation
	if err := r.data.db.WithContext(ctx).Order("allocation_id").Find(&ms).Error; err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeAllocationGetFailed)
	}
	return toAllocations(ms), nil
}

// scopeColumn 范围类型对应的列
func scopeColumn(scope biz.Scope) (string, error) {
	switch scope.Type {
	case constants.TierProject:
		return "project_id", nil
	case constants.TierCustomer:
		return "customer_id", nil
	}
	return "", fmt.Errorf("unknown scope type %q", scope.Type)
}

// ListAllocationsByScope 列出项目或客户下的分配
func (r *allocationRepo) ListAllocationsByScope(ctx context.Context, scope biz.Scope) ([]*biz.Allocation, error) {
	column, err := scopeColumn(scope)
	if err != nil {
		return nil, err
	}
	var ms []*model.Allocation
	if err := r.data.db.WithContext(ctx).Where(column+" = ?", scope.ID).Order("allocation_id").Find(&ms).Error; err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeAllocationGetFailed)
	}
	return toAllocations(ms), nil
}

// CountAllocations 统计分配数
func (r *allocationRepo) CountAllocations(ctx context.Context) (int64, error) {
	var count int64
	err := r.data.db.WithContext(ctx).Model(&model.Allocation{}).Count(&count).Error
	return count, err
}

// CountByProject 统计项目下除 excludeID 之外的分配数
func (r *allocationRepo) CountByProject(ctx context.Context, projectID, excludeID string) (int64, error) {
	var count int64
	err := r.data.db.WithContext(ctx).Model(&model.Allocation{}).
		Where("project_id = ? AND allocation_id <> ?", projectID, excludeID).
		Count(&count).Error
	return count, err
}

// CountByCustomer 统计客户下除 excludeID 之外的分配数
func (r *allocationRepo) CountByCustomer(ctx context.Context, customerID, excludeID string) (int64, error) {
	var count int64
	err := r.data.db.WithContext(ctx).Model(&model.Allocation{}).
		Where("customer_id = ? AND allocation_id <> ?", customerID, excludeID).
		Count(&count).Error
	return count, err
}

func (r *allocationRepo) update(ctx context.Context, id string, values map[string]interface{}) error {
	result := r.data.db.WithContext(ctx).Model(&model.Allocation{}).
		Where("allocation_id = ?", id).
		Updates(values)
	if result.Error != nil {
		r.log.Errorf("update allocation failed: id=%s, error=%v", id, result.Error)
		return pkgErrors.WrapErrorWithLang(ctx, result.Error, slurmErrors.ErrCodeAllocationUpdateFailed)
	}
	if result.RowsAffected == 0 {
		r.log.Warnf("allocation %s not updated: no such row or nothing changed", id)
	}
	return nil
}

// UpdateLimits 更新限额
func (r *allocationRepo) UpdateLimits(ctx context.Context, id string, limits quota.Quota) error {
	return r.update(ctx, id, map[string]interface{}{
		"cpu_limit":     limitOr(limits.CPU),
		"gpu_limit":     limitOr(limits.GPU),
		"ram_limit":     limitOr(limits.RAM),
		"deposit_limit": limits.Deposit,
	})
}

// UpdateUsage 更新用量
func (r *allocationRepo) UpdateUsage(ctx context.Context, id string, usage quota.Quota) error {
	return r.update(ctx, id, map[string]interface{}{
		"cpu_usage":     usage.CPUValue(),
		"gpu_usage":     usage.GPUValue(),
		"ram_usage":     usage.RAMValue(),
		"deposit_usage": usage.Deposit,
	})
}

// SetActive 更新启用状态
func (r *allocationRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, id, map[string]interface{}{"is_active": active})
}

// SetState 更新状态与错误信息
func (r *allocationRepo) SetState(ctx context.Context, id, state, message string) error {
	return r.update(ctx, id, map[string]interface{}{
		"state":         state,
		"error_message": message,
	})
}

// DeleteAllocation 删除分配及其用量快照
func (r *allocationRepo) DeleteAllocation(ctx context.Context, id string) error {
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("allocation_id = ?", id).Delete(&model.AllocationUsage{}).Error; err != nil {
			return err
		}
		return tx.Where("allocation_id = ?", id).Delete(&model.Allocation{}).Error
	})
	if err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeAllocationDeleteFailed)
	}
	return nil
}

// usageTotals 汇总查询结果
type usageTotals struct {
	CPU     int64
	GPU     int64
	RAM     int64
	Deposit *float64
}

// SumUsage 汇总范围内分配的用量
func (r *allocationRepo) SumUsage(ctx context.Context, scope biz.Scope) (quota.Quota, error) {
	column, err := scopeColumn(scope)
	if err != nil {
		return quota.Quota{}, err
	}
	var totals usageTotals
	err = r.data.db.WithContext(ctx).Model(&model.Allocation{}).
		Select("COALESCE(SUM(cpu_usage), 0) AS cpu, COALESCE(SUM(gpu_usage), 0) AS gpu, "+
			"COALESCE(SUM(ram_usage), 0) AS ram, SUM(deposit_usage) AS deposit").
		Where(column+" = ?", scope.ID).
		Scan(&totals).Error
	if err != nil {
		return quota.Quota{}, pkgErrors.WrapErrorWithLang(ctx, err, pkgErrors.ErrCodeDatabaseError)
	}
	return quota.Quota{
		CPU:     quota.Int(totals.CPU),
		GPU:     quota.Int(totals.GPU),
		RAM:     quota.Int(totals.RAM),
		Deposit: totals.Deposit,
	}, nil
}
