package model

import (
	"time"
)

// Allocation 分配表（平台侧期望状态与最近一次同步的用量）
type Allocation struct {
	AllocationID string    `gorm:"column:allocation_id;primaryKey;type:varchar(36)"`
	Name         string    `gorm:"column:name;type:varchar(150);not null"`
	CustomerID   string    `gorm:"column:customer_id;type:varchar(36);not null;index:idx_customer"`
	CustomerName string    `gorm:"column:customer_name;type:varchar(150)"`
	ProjectID    string    `gorm:"column:project_id;type:varchar(36);not null;index:idx_project"`
	ProjectName  string    `gorm:"column:project_name;type:varchar(150)"`
	CPULimit     int64     `gorm:"column:cpu_limit;not null"`
	GPULimit     int64     `gorm:"column:gpu_limit;not null"`
	RAMLimit     int64     `gorm:"column:ram_limit;not null"`
	DepositLimit *float64  `gorm:"column:deposit_limit;type:decimal(12,2)"` // 仅 Moab
	CPUUsage     int64     `gorm:"column:cpu_usage;not null"`
	GPUUsage     int64     `gorm:"column:gpu_usage;not null"`
	RAMUsage     int64     `gorm:"column:ram_usage;not null"`
	DepositUsage *float64  `gorm:"column:deposit_usage;type:decimal(12,2)"`
	IsActive     bool      `gorm:"column:is_active;not null"`
	State        string    `gorm:"column:state;type:varchar(16);default:OK"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Allocation) TableName() string {
	return "allocation"
}

// AllocationUsage 用户月度用量快照表
type AllocationUsage struct {
	AllocationUsageID string    `gorm:"column:allocation_usage_id;primaryKey;type:varchar(36)"`
	AllocationID      string    `gorm:"column:allocation_id;type:varchar(36);not null;uniqueIndex:uk_allocation_user_month,priority:1"`
	Username          string    `gorm:"column:username;type:varchar(32);not null;uniqueIndex:uk_allocation_user_month,priority:2"`
	UserID            string    `gorm:"column:user_id;type:varchar(36)"`
	Year              int       `gorm:"column:year;not null;uniqueIndex:uk_allocation_user_month,priority:3"`
	Month             int       `gorm:"column:month;not null;uniqueIndex:uk_allocation_user_month,priority:4"`
	CPUUsage          int64     `gorm:"column:cpu_usage;not null"`
	GPUUsage          int64     `gorm:"column:gpu_usage;not null"`
	RAMUsage          int64     `gorm:"column:ram_usage;not null"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (AllocationUsage) TableName() string {
	return "allocation_usage"
}
