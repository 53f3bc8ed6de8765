package service

import (
	"context"
	"fmt"

	"slurm-service/internal/biz"
	"slurm-service/internal/constants"
	"slurm-service/internal/metrics"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// EventService 处理平台生命周期事件（RocketMQ 投递）
type EventService struct {
	allocations *biz.AllocationUseCase
	executor    *AllocationService
	log         *log.Helper
	metrics     *metrics.SlurmMetrics
}

// NewEventService 创建 EventService
func NewEventService(allocations *biz.AllocationUseCase, executor *AllocationService, logger log.Logger) *EventService {
	return &EventService{
		allocations: allocations,
		executor:    executor,
		log:         log.NewHelper(log.With(logger, "module", "service/event")),
		metrics:     metrics.GetMetrics(),
	}
}

// Handle 分发事件。未知类型、缺少字段或分配不存在的事件被丢弃，返回错误的事件会被重投。
func (s *EventService) Handle(ctx context.Context, e *biz.LifecycleEvent) error {
	if err := validateEvent(e); err != nil {
		s.log.WithContext(ctx).Warnf("drop event: %v", err)
		s.metrics.EventTotal.WithLabelValues(e.Type, constants.ResultSkipped).Inc()
		return nil
	}

	err := s.dispatch(ctx, e)
	if kerrors.IsNotFound(err) {
		s.log.WithContext(ctx).Warnf("drop %s event: %v", e.Type, err)
		s.metrics.EventTotal.WithLabelValues(e.Type, constants.ResultSkipped).Inc()
		return nil
	}
	if err != nil {
		s.log.WithContext(ctx).Errorf("handle %s event failed: %v", e.Type, err)
		s.metrics.EventTotal.WithLabelValues(e.Type, constants.ResultFailed).Inc()
		return err
	}
	s.metrics.EventTotal.WithLabelValues(e.Type, constants.ResultSuccess).Inc()
	return nil
}

func (s *EventService) dispatch(ctx context.Context, e *biz.LifecycleEvent) error {
	switch e.Type {
	case biz.EventRoleGranted:
		return s.allocations.GrantRole(ctx, e.Scope(), e.UserID)
	case biz.EventRoleRevoked:
		return s.allocations.RevokeRole(ctx, e.Scope(), e.UserID)
	case biz.EventProfileCreated:
		return s.allocations.OnProfileCreated(ctx, e.UserID, e.Username)
	case biz.EventProfileDeleted:
		return s.allocations.OnProfileDeleted(ctx, e.UserID, e.Username)
	case biz.EventAllocationCreated:
		_, err := s.executor.ProvisionAllocation(ctx, e.AllocationID)
		return err
	case biz.EventAllocationDeleted:
		return s.executor.DeleteAllocation(ctx, e.AllocationID)
	case biz.EventAllocationCanceled:
		_, err := s.executor.CancelAllocation(ctx, e.AllocationID)
		return err
	}
	return nil
}

func validateEvent(e *biz.LifecycleEvent) error {
	switch e.Type {
	case biz.EventRoleGranted, biz.EventRoleRevoked:
		if e.ScopeType != constants.TierProject && e.ScopeType != constants.TierCustomer {
			return fmt.Errorf("%s: invalid scope type %q", e.Type, e.ScopeType)
		}
		if e.ScopeID == "" || e.UserID == "" {
			return fmt.Errorf("%s: scope_id and user_id are required", e.Type)
		}
		if !biz.ValidID(e.ScopeID) {
			return fmt.Errorf("%s: invalid scope_id %q", e.Type, e.ScopeID)
		}
	case biz.EventProfileCreated, biz.EventProfileDeleted:
		if e.UserID == "" || e.Username == "" {
			return fmt.Errorf("%s: user_id and username are required", e.Type)
		}
		if !biz.ValidUsername(e.Username) {
			return fmt.Errorf("%s: invalid username %q", e.Type, e.Username)
		}
	case biz.EventAllocationCreated, biz.EventAllocationDeleted, biz.EventAllocationCanceled:
		if !biz.ValidID(e.AllocationID) {
			return fmt.Errorf("%s: invalid allocation_id %q", e.Type, e.AllocationID)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
