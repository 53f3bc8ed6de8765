package data

import (
	"context"

	"slurm-service/internal/biz"
	"slurm-service/internal/data/model"
	slurmErrors "slurm-service/internal/errors"
	"slurm-service/internal/quota"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// allocationUsageRepo 用户用量快照数据访问
type allocationUsageRepo struct {
	data *Data
	log  *log.Helper
}

// NewAllocationUsageRepo 创建用量快照 repo（返回 biz.AllocationUsageRepo 接口）
func NewAllocationUsageRepo(data *Data, logger log.Logger) biz.AllocationUsageRepo {
	return &allocationUsageRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// UpsertUsage 按 uk_allocation_user_month 覆盖写入
func (r *allocationUsageRepo) UpsertUsage(ctx context.Context, u *biz.AllocationUsage) error {
	m := model.AllocationUsage{
		AllocationUsageID: uuid.New().String(),
		AllocationID:      u.AllocationID,
		Username:          u.Username,
		UserID:            u.UserID,
		Year:              u.Year,
		Month:             u.Month,
		CPUUsage:          u.Usage.CPUValue(),
		GPUUsage:          u.Usage.GPUValue(),
		RAMUsage:          u.Usage.RAMValue(),
	}
	err := r.data.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "allocation_id"},
			{Name: "username"},
			{Name: "year"},
			{Name: "month"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "cpu_usage", "gpu_usage", "ram_usage", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		r.log.Errorf("UpsertUsage failed: allocation=%s, username=%s, error=%v", u.AllocationID, u.Username, err)
		return pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeUsageSaveFailed)
	}
	return nil
}

// ListUsages 查询某月的用户用量
func (r *allocationUsageRepo) ListUsages(ctx context.Context, allocationID string, year, month int) ([]*biz.AllocationUsage, error) {
	var ms []*model.AllocationUsage
	if err := r.data.db.WithContext(ctx).
		Where("allocation_id = ? AND year = ? AND month = ?", allocationID, year, month).
		Order("username").
		Find(&ms).Error; err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeUsageListFailed)
	}

	result := make([]*biz.AllocationUsage, 0, len(ms))
	for _, m := range ms {
		result = append(result, &biz.AllocationUsage{
			AllocationID: m.AllocationID,
			Username:     m.Username,
			UserID:       m.UserID,
			Year:         m.Year,
			Month:        m.Month,
			Usage:        quota.New(m.CPUUsage, m.GPUUsage, m.RAMUsage),
		})
	}
	return result, nil
}
