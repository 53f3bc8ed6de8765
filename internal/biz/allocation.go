package biz

import (
	"context"
	"time"

	"slurm-service/internal/quota"
)

// Allocation 分配领域对象（平台侧期望状态）
type Allocation struct {
	ID           string
	Name         string
	CustomerID   string
	CustomerName string
	ProjectID    string
	ProjectName  string
	Limits       quota.Quota
	Usage        quota.Quota
	IsActive     bool
	State        string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Scope 授权范围：项目或客户
type Scope struct {
	Type string // constants.TierProject / constants.TierCustomer
	ID   string
}

// AllocationUsage 按 (分配, 用户名, 年, 月) 唯一的用户用量快照
type AllocationUsage struct {
	AllocationID string
	Username     string
	UserID       string // 目录中找不到时为空
	Year         int
	Month        int
	Usage        quota.Quota
}

// AllocationRepo 分配数据层接口（定义在 biz 层）
type AllocationRepo interface {
	CreateAllocation(ctx context.Context, allocation *Allocation) error
	// GetAllocation 不存在时返回 nil, nil
	GetAllocation(ctx context.Context, id string) (*Allocation, error)
	ListAllocations(ctx context.Context) ([]*Allocation, error)
	ListAllocationsByScope(ctx context.Context, scope Scope) ([]*Allocation, error)
	CountAllocations(ctx context.Context) (int64, error)
	// CountByProject / CountByCustomer 统计除 excludeID 之外的分配数
	CountByProject(ctx context.Context, projectID, excludeID string) (int64, error)
	CountByCustomer(ctx context.Context, customerID, excludeID string) (int64, error)
	UpdateLimits(ctx context.Context, id string, limits quota.Quota) error
	UpdateUsage(ctx context.Context, id string, usage quota.Quota) error
	SetActive(ctx context.Context, id string, active bool) error
	SetState(ctx context.Context, id, state, message string) error
	DeleteAllocation(ctx context.Context, id string) error
	// SumUsage 汇总范围内所有分配的用量
	SumUsage(ctx context.Context, scope Scope) (quota.Quota, error)
}

// AllocationUsageRepo 用户用量快照数据层接口
type AllocationUsageRepo interface {
	// UpsertUsage 以 (分配, 用户名, 年, 月) 为键覆盖写入
	UpsertUsage(ctx context.Context, usage *AllocationUsage) error
	ListUsages(ctx context.Context, allocationID string, year, month int) ([]*AllocationUsage, error)
}

// DirectoryRepo 身份目录：平台用户 ↔ 远端用户名，以及授权范围成员
type DirectoryRepo interface {
	// GetUsername 用户没有档案时返回空串
	GetUsername(ctx context.Context, userID string) (string, error)
	// GetUserID 用户名没有对应用户时返回空串
	GetUserID(ctx context.Context, username string) (string, error)
	SaveProfile(ctx context.Context, userID, username string) error
	DeleteProfile(ctx context.Context, userID string) error
	AddMember(ctx context.Context, scope Scope, userID string) error
	RemoveMember(ctx context.Context, scope Scope, userID string) error
	// ListUserScopes 返回用户拥有角色的全部范围
	ListUserScopes(ctx context.Context, userID string) ([]Scope, error)
	// ListAllocationUsernames 返回有权使用该分配且有档案的用户名
	ListAllocationUsernames(ctx context.Context, allocation *Allocation) ([]string, error)
}

// Locker 分布式锁
type Locker interface {
	// Lock 获取 key 对应的锁，返回释放函数
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
