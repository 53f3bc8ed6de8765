package service

import (
	"context"
	"strings"
	"time"

	"slurm-service/internal/biz"
	"slurm-service/internal/constants"
	slurmErrors "slurm-service/internal/errors"
	"slurm-service/internal/quota"

	"github.com/go-kratos/kratos/v2/log"
)

// CreateAllocationRequest 登记并开通分配
type CreateAllocationRequest struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	CustomerID   string      `json:"customer_id"`
	CustomerName string      `json:"customer_name"`
	ProjectID    string      `json:"project_id"`
	ProjectName  string      `json:"project_name"`
	Limits       quota.Quota `json:"limits"`
}

// UserRequest 分配用户关联
type UserRequest struct {
	AllocationID string `json:"-"`
	Username     string `json:"username"`
}

// AllocationReply 分配视图
type AllocationReply struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	CustomerID   string      `json:"customer_id"`
	CustomerName string      `json:"customer_name,omitempty"`
	ProjectID    string      `json:"project_id"`
	ProjectName  string      `json:"project_name,omitempty"`
	Limits       quota.Quota `json:"limits"`
	Usage        quota.Quota `json:"usage"`
	IsActive     bool        `json:"is_active"`
	State        string      `json:"state"`
	ErrorMessage string      `json:"error_message,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// UsageReply 用户月度用量
type UsageReply struct {
	Username string      `json:"username"`
	UserID   string      `json:"user_id,omitempty"`
	Year     int         `json:"year"`
	Month    int         `json:"month"`
	Usage    quota.Quota `json:"usage"`
}

// ListUsagesReply 用量列表
type ListUsagesReply struct {
	Usages []*UsageReply `json:"usages"`
}

// AllocationService 分配操作执行器：持有分配锁，失败时把分配标记为 Erred
type AllocationService struct {
	allocations *biz.AllocationUseCase
	usage       *biz.UsageUseCase
	locker      biz.Locker
	now         func() time.Time
	log         *log.Helper
}

// NewAllocationService 创建 AllocationService
func NewAllocationService(allocations *biz.AllocationUseCase, usage *biz.UsageUseCase, locker biz.Locker, logger log.Logger) *AllocationService {
	return &AllocationService{
		allocations: allocations,
		usage:       usage,
		locker:      locker,
		now:         time.Now,
		log:         log.NewHelper(log.With(logger, "module", "service/allocation")),
	}
}

// lock 获取分配锁
func (s *AllocationService) lock(ctx context.Context, id string) (func(), error) {
	key := constants.RedisKeyAllocationLock + id
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		s.log.WithContext(ctx).Warnf("lock allocation %s failed: %v", id, err)
		return nil, slurmErrors.ErrLockFailed(slurmErrors.ErrCodeAllocationLockFailed, key, err)
	}
	return unlock, nil
}

// load 读取分配，不存在时返回 NotFound
func (s *AllocationService) load(ctx context.Context, id string) (*biz.Allocation, error) {
	allocation, err := s.allocations.GetAllocation(ctx, id)
	if err != nil {
		return nil, slurmErrors.FromError(err)
	}
	if allocation == nil {
		return nil, slurmErrors.ErrAllocationNotFound(id)
	}
	return allocation, nil
}

// execute 在分配锁内执行操作。失败时记录 Erred 与原因，成功时恢复 OK。
// removes 为 true 的操作成功后分配记录已不存在，不再回写状态。
func (s *AllocationService) execute(ctx context.Context, id, op string, removes bool, fn func(context.Context, *biz.Allocation) error) (*biz.Allocation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, slurmErrors.ErrInvalidArgument("allocation id is required")
	}
	if !biz.ValidID(id) {
		return nil, slurmErrors.ErrInvalidIdentifier("allocation id", id)
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	allocation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, allocation, op, removes, fn)
}

func (s *AllocationService) run(ctx context.Context, allocation *biz.Allocation, op string, removes bool, fn func(context.Context, *biz.Allocation) error) (*biz.Allocation, error) {
	if err := fn(ctx, allocation); err != nil {
		s.log.WithContext(ctx).Errorf("%s allocation %s failed: %v", op, allocation.ID, err)
		if markErr := s.allocations.MarkErred(ctx, allocation.ID, err); markErr != nil {
			s.log.WithContext(ctx).Errorf("mark allocation %s erred failed: %v", allocation.ID, markErr)
		}
		return nil, slurmErrors.FromError(err)
	}
	if removes {
		return nil, nil
	}
	if allocation.State != constants.AllocationStateOK {
		if err := s.allocations.MarkOK(ctx, allocation.ID); err != nil {
			return nil, slurmErrors.FromError(err)
		}
	}
	return s.load(ctx, allocation.ID)
}

// CreateAllocation 登记（不存在时）并开通分配
func (s *AllocationService) CreateAllocation(ctx context.Context, req *CreateAllocationRequest) (*AllocationReply, error) {
	if req.ID == "" || req.ProjectID == "" || req.CustomerID == "" {
		return nil, slurmErrors.ErrInvalidArgument("id, project_id and customer_id are required")
	}
	for field, value := range map[string]string{
		"id":          req.ID,
		"project_id":  req.ProjectID,
		"customer_id": req.CustomerID,
	} {
		if !biz.ValidID(value) {
			return nil, slurmErrors.ErrInvalidIdentifier(field, value)
		}
	}

	unlock, err := s.lock(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	allocation, err := s.allocations.GetAllocation(ctx, req.ID)
	if err != nil {
		return nil, slurmErrors.FromError(err)
	}
	if allocation == nil {
		allocation = &biz.Allocation{
			ID:           req.ID,
			Name:         req.Name,
			CustomerID:   req.CustomerID,
			CustomerName: req.CustomerName,
			ProjectID:    req.ProjectID,
			ProjectName:  req.ProjectName,
			Limits:       req.Limits,
		}
		if err := s.allocations.RegisterAllocation(ctx, allocation); err != nil {
			return nil, slurmErrors.FromError(err)
		}
		s.log.WithContext(ctx).Infof("registered allocation %s (project=%s, customer=%s)", req.ID, req.ProjectID, req.CustomerID)
	}

	out, err := s.run(ctx, allocation, "create", false, s.allocations.CreateAllocation)
	if err != nil {
		return nil, err
	}
	return toAllocationReply(out), nil
}

// ProvisionAllocation 开通已登记的分配
func (s *AllocationService) ProvisionAllocation(ctx context.Context, id string) (*AllocationReply, error) {
	out, err := s.execute(ctx, id, "create", false, s.allocations.CreateAllocation)
	if err != nil {
		return nil, err
	}
	return toAllocationReply(out), nil
}

// GetAllocation 查询分配
func (s *AllocationService) GetAllocation(ctx context.Context, id string) (*AllocationReply, error) {
	allocation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return toAllocationReply(allocation), nil
}

// DeleteAllocation 删除分配及其空的上级账户
func (s *AllocationService) DeleteAllocation(ctx context.Context, id string) error {
	_, err := s.execute(ctx, id, "delete", true, s.allocations.DeleteAllocation)
	return err
}

// CancelAllocation 冻结限额并停用
func (s *AllocationService) CancelAllocation(ctx context.Context, id string) (*AllocationReply, error) {
	out, err := s.execute(ctx, id, "cancel", false, s.allocations.CancelAllocation)
	if err != nil {
		return nil, err
	}
	return toAllocationReply(out), nil
}

// PullAllocation 拉取单个分配的用量
func (s *AllocationService) PullAllocation(ctx context.Context, id string) (*AllocationReply, error) {
	out, err := s.execute(ctx, id, "pull", false, s.usage.PullAllocation)
	if err != nil {
		return nil, err
	}
	return toAllocationReply(out), nil
}

// AddUser 为分配添加用户关联
func (s *AllocationService) AddUser(ctx context.Context, req *UserRequest) (*AllocationReply, error) {
	if err := validateUsername(req.Username); err != nil {
		return nil, err
	}
	out, err := s.execute(ctx, req.AllocationID, "add_user", false, func(ctx context.Context, a *biz.Allocation) error {
		return s.allocations.AddUser(ctx, a, req.Username)
	})
	if err != nil {
		return nil, err
	}
	return toAllocationReply(out), nil
}

// DeleteUser 删除分配的用户关联
func (s *AllocationService) DeleteUser(ctx context.Context, req *UserRequest) (*AllocationReply, error) {
	if err := validateUsername(req.Username); err != nil {
		return nil, err
	}
	out, err := s.execute(ctx, req.AllocationID, "delete_user", false, func(ctx context.Context, a *biz.Allocation) error {
		return s.allocations.DeleteUser(ctx, a, req.Username)
	})
	if err != nil {
		return nil, err
	}
	return toAllocationReply(out), nil
}

// ListUsages 查询用户月度用量，year/month 为 0 时取当月
func (s *AllocationService) ListUsages(ctx context.Context, id string, year, month int) (*ListUsagesReply, error) {
	if month < 0 || month > 12 {
		return nil, slurmErrors.ErrInvalidArgument("invalid month %d", month)
	}
	if year == 0 || month == 0 {
		now := s.now()
		year, month = now.Year(), int(now.Month())
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}

	usages, err := s.usage.ListUsages(ctx, id, year, month)
	if err != nil {
		return nil, slurmErrors.FromError(err)
	}
	reply := &ListUsagesReply{Usages: make([]*UsageReply, 0, len(usages))}
	for _, u := range usages {
		reply.Usages = append(reply.Usages, &UsageReply{
			Username: u.Username,
			UserID:   u.UserID,
			Year:     u.Year,
			Month:    u.Month,
			Usage:    u.Usage,
		})
	}
	return reply, nil
}

func validateUsername(username string) error {
	if username == "" {
		return slurmErrors.ErrInvalidArgument("username is required")
	}
	if !biz.ValidUsername(username) {
		return slurmErrors.ErrInvalidIdentifier("username", username)
	}
	return nil
}

func toAllocationReply(a *biz.Allocation) *AllocationReply {
	return &AllocationReply{
		ID:           a.ID,
		Name:         a.Name,
		CustomerID:   a.CustomerID,
		CustomerName: a.CustomerName,
		ProjectID:    a.ProjectID,
		ProjectName:  a.ProjectName,
		Limits:       a.Limits,
		Usage:        a.Usage,
		IsActive:     a.IsActive,
		State:        a.State,
		ErrorMessage: a.ErrorMessage,
		UpdatedAt:    a.UpdatedAt,
	}
}
