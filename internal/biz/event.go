package biz

import "time"

// 生命周期事件类型
const (
	EventRoleGranted        = "role_granted"
	EventRoleRevoked        = "role_revoked"
	EventProfileCreated     = "profile_created"
	EventProfileDeleted     = "profile_deleted"
	EventAllocationCreated  = "allocation_created"
	EventAllocationDeleted  = "allocation_deleted"
	EventAllocationCanceled = "allocation_canceled"
)

// LifecycleEvent is the message consumed from RocketMQ; which fields are set depends on Type
type LifecycleEvent struct {
	Type         string    `json:"type"`
	ScopeType    string    `json:"scope_type,omitempty"` // project / customer
	ScopeID      string    `json:"scope_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	AllocationID string    `json:"allocation_id,omitempty"`
	EventTime    time.Time `json:"event_time"`
}

// Scope 事件中的授权范围
func (e *LifecycleEvent) Scope() Scope {
	return Scope{Type: e.ScopeType, ID: e.ScopeID}
}
