package model

import (
	"time"
)

// ScopeMember 项目/客户成员表
type ScopeMember struct {
	ScopeMemberID string    `gorm:"column:scope_member_id;primaryKey;type:varchar(36)"`
	ScopeType     string    `gorm:"column:scope_type;type:varchar(16);not null;uniqueIndex:uk_scope_user,priority:1"` // project / customer
	ScopeID       string    `gorm:"column:scope_id;type:varchar(36);not null;uniqueIndex:uk_scope_user,priority:2"`
	UserID        string    `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex:uk_scope_user,priority:3;index:idx_user"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (ScopeMember) TableName() string {
	return "scope_member"
}
