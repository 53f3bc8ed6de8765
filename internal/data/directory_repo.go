package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slurm-service/internal/biz"
	"slurm-service/internal/constants"
	"slurm-service/internal/data/model"
	slurmErrors "slurm-service/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const usernameCacheTTL = 10 * time.Minute

// directoryRepo 身份目录数据访问，用户名查询走 Redis 缓存
type directoryRepo struct {
	data *Data
	log  *log.Helper
}

// NewDirectoryRepo 创建身份目录 repo（返回 biz.DirectoryRepo 接口）
func NewDirectoryRepo(data *Data, logger log.Logger) biz.DirectoryRepo {
	return &directoryRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetUsername 获取用户的远端用户名
func (r *directoryRepo) GetUsername(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("userID is required")
	}

	// 先尝试从 Redis 获取
	key := constants.RedisKeyUsername + userID
	username, err := r.data.rdb.Get(ctx, key).Result()
	if err == nil {
		return username, nil
	}
	if !errors.Is(err, redis.Nil) {
		r.log.Warnf("read username cache failed: userID=%s, error=%v", userID, err)
	}

	// 缓存未命中，从数据库查询
	var m model.UserProfile
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		r.log.Errorf("GetUsername failed: userID=%s, error=%v", userID, err)
		return "", pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeProfileGetFailed)
	}

	r.cacheUsername(userID, m.Username)
	return m.Username, nil
}

// cacheUsername 更新缓存（设置超时避免阻塞），失败不影响主流程
func (r *directoryRepo) cacheUsername(userID, username string) {
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cacheCancel()
	if err := r.data.rdb.Set(cacheCtx, constants.RedisKeyUsername+userID, username, usernameCacheTTL).Err(); err != nil {
		r.log.Warnf("failed to update username cache: %v", err)
	}
}

func (r *directoryRepo) evictUsername(userID string) {
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cacheCancel()
	if err := r.data.rdb.Del(cacheCtx, constants.RedisKeyUsername+userID).Err(); err != nil {
		r.log.Warnf("failed to evict username cache: %v", err)
	}
}

// GetUserID 根据远端用户名获取用户
func (r *directoryRepo) GetUserID(ctx context.Context, username string) (string, error) {
	var m model.UserProfile
	if err := r.data.db.WithContext(ctx).Where("username = ?", username).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeProfileGetFailed)
	}
	return m.UserID, nil
}

// SaveProfile 保存档案（存在则更新用户名）
func (r *directoryRepo) SaveProfile(ctx context.Context, userID, username string) error {
	m := model.UserProfile{UserID: userID, Username: username}
	err := r.data.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeProfileSaveFailed)
	}
	r.evictUsername(userID)
	return nil
}

// DeleteProfile 删除档案
func (r *directoryRepo) DeleteProfile(ctx context.Context, userID string) error {
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.UserProfile{}).Error; err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeProfileSaveFailed)
	}
	r.evictUsername(userID)
	return nil
}

// AddMember 添加成员（已存在则忽略）
func (r *directoryRepo) AddMember(ctx context.Context, scope biz.Scope, userID string) error {
	m := model.ScopeMember{
		ScopeMemberID: uuid.New().String(),
		ScopeType:     scope.Type,
		ScopeID:       scope.ID,
		UserID:        userID,
	}
	if err := r.data.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeMemberUpdateFailed)
	}
	return nil
}

// RemoveMember 移除成员
func (r *directoryRepo) RemoveMember(ctx context.Context, scope biz.Scope, userID string) error {
	err := r.data.db.WithContext(ctx).
		Where("scope_type = ? AND scope_id = ? AND user_id = ?", scope.Type, scope.ID, userID).
		Delete(&model.ScopeMember{}).Error
	if err != nil {
		return pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeMemberUpdateFailed)
	}
	return nil
}

// ListUserScopes 列出用户拥有角色的范围
func (r *directoryRepo) ListUserScopes(ctx context.Context, userID string) ([]biz.Scope, error) {
	var ms []*model.ScopeMember
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).Order("scope_id").Find(&ms).Error; err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeMemberListFailed)
	}
	scopes := make([]biz.Scope, 0, len(ms))
	for _, m := range ms {
		scopes = append(scopes, biz.Scope{Type: m.ScopeType, ID: m.ScopeID})
	}
	return scopes, nil
}

// ListAllocationUsernames 分配所在项目与客户的成员中有档案者的用户名
func (r *directoryRepo) ListAllocationUsernames(ctx context.Context, a *biz.Allocation) ([]string, error) {
	var usernames []string
	err := r.data.db.WithContext(ctx).
		Table(model.ScopeMember{}.TableName()+" AS m").
		Joins("JOIN "+model.UserProfile{}.TableName()+" AS p ON p.user_id = m.user_id").
		Where("(m.scope_type = ? AND m.scope_id = ?) OR (m.scope_type = ? AND m.scope_id = ?)",
			constants.TierProject, a.ProjectID, constants.TierCustomer, a.CustomerID).
		Distinct().
		Order("p.username").
		Pluck("p.username", &usernames).Error
	if err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, slurmErrors.ErrCodeMemberListFailed)
	}
	return usernames, nil
}
