package biz

import (
	"strings"
	"time"

	"slurm-service/internal/conf"
	"slurm-service/internal/constants"
)

// SlurmConfig 记账同步配置
type SlurmConfig struct {
	Backend           string
	AccountNamePrefix string
	UsernamePrefix    string // 关联对账时只处理该前缀的用户名，为空则不过滤
	DefaultAccount    string
	LockExpiry        time.Duration
}

// NewSlurmConfig 从配置创建 SlurmConfig
func NewSlurmConfig(c *conf.Bootstrap) *SlurmConfig {
	config := &SlurmConfig{
		Backend:           "slurm",
		AccountNamePrefix: "waldur",
		LockExpiry:        5 * time.Minute, // 默认值
	}
	if c.Slurm != nil {
		if c.Slurm.Backend != "" {
			config.Backend = strings.ToLower(c.Slurm.Backend)
		}
		if c.Slurm.AccountNamePrefix != "" {
			config.AccountNamePrefix = c.Slurm.AccountNamePrefix
		}
		config.UsernamePrefix = c.Slurm.UsernamePrefix
		config.DefaultAccount = c.Slurm.DefaultAccount
		if d := c.Slurm.LockExpiry.AsDuration(); d > 0 {
			config.LockExpiry = d
		}
	}
	return config
}

// CustomerAccount 客户账户名
func (c *SlurmConfig) CustomerAccount(customerID string) string {
	return AccountName(c.AccountNamePrefix, constants.TierCustomer, customerID)
}

// ProjectAccount 项目账户名
func (c *SlurmConfig) ProjectAccount(projectID string) string {
	return AccountName(c.AccountNamePrefix, constants.TierProject, projectID)
}

// AllocationAccount 分配账户名
func (c *SlurmConfig) AllocationAccount(allocationID string) string {
	return AccountName(c.AccountNamePrefix, constants.TierAllocation, allocationID)
}

// ManagesUser 判断远端用户名是否属于本服务管理范围
func (c *SlurmConfig) ManagesUser(username string) bool {
	return c.UsernamePrefix == "" || strings.HasPrefix(username, c.UsernamePrefix)
}
