package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 服务配置根节点
type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Slurm  *Slurm  `json:"slurm"`
	Cron   *Cron   `json:"cron"`
}

// Server HTTP/gRPC 监听配置
type Server struct {
	Http *Server_HTTP `json:"http"`
	Grpc *Server_GRPC `json:"grpc"`
}

// Server_HTTP HTTP 监听配置
type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Server_GRPC gRPC 监听配置
type Server_GRPC struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 存储与消息配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_RocketMQ `json:"rocketmq"`
}

// Data_Database 数据库配置
type Data_Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Data_Redis Redis 配置
type Data_Redis struct {
	Addr         string    `json:"addr"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

// Data_RocketMQ 生命周期事件消费配置
type Data_RocketMQ struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Slurm 记账后端配置
type Slurm struct {
	// Backend slurm 或 moab
	Backend           string    `json:"backend"`
	Hostname          string    `json:"hostname"`
	Port              int32     `json:"port"`
	Username          string    `json:"username"`
	PrivateKeyPath    string    `json:"private_key_path"`
	KnownHostsPath    string    `json:"known_hosts_path"`
	UseSudo           bool      `json:"use_sudo"`
	AccountNamePrefix string    `json:"account_name_prefix"`
	UsernamePrefix    string    `json:"username_prefix"`
	DefaultAccount    string    `json:"default_account"`
	DialTimeout       *Duration `json:"dial_timeout"`
	CommandTimeout    *Duration `json:"command_timeout"`
	LockExpiry        *Duration `json:"lock_expiry"`
}

// Cron 定时任务配置（robfig/cron 秒级表达式）
type Cron struct {
	UsageSync string `json:"usage_sync"`
	FullSync  string `json:"full_sync"`
}

// Duration 以 "30s"、"5m" 形式配置的时长
type Duration struct {
	time.Duration
}

// AsDuration 返回 time.Duration，nil 时为 0
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

// UnmarshalJSON 支持字符串（"30s"）与整数秒两种写法
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(value) * time.Second
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// MarshalJSON 输出字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
