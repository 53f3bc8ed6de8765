package model

import (
	"time"
)

// UserProfile 身份目录档案：平台用户与远端用户名
type UserProfile struct {
	UserID    string    `gorm:"column:user_id;primaryKey;type:varchar(36)"`
	Username  string    `gorm:"column:username;uniqueIndex;type:varchar(32);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UserProfile) TableName() string {
	return "user_profile"
}
