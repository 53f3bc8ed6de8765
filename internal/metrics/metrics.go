package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SlurmMetrics 记账同步服务指标
type SlurmMetrics struct {
	// 远程命令相关指标
	CommandTotal    *prometheus.CounterVec   // 远程命令总数（按后端、操作、结果）
	CommandDuration *prometheus.HistogramVec // 远程命令耗时

	// 账户/关联变更
	AccountOpsTotal     *prometheus.CounterVec // 账户增删（按操作、层级）
	AssociationOpsTotal *prometheus.CounterVec // 用户关联增删（按操作）

	// 用量同步
	UsageSyncTotal    *prometheus.CounterVec // 用量同步次数（按结果）
	UsageSyncDuration prometheus.Histogram   // 用量同步耗时
	UsageSkippedTotal prometheus.Counter     // 报告中无法匹配分配而跳过的账户数

	// 分配用量（最近一次同步的值）
	AllocationUsage *prometheus.GaugeVec // 按 allocation、resource
	ScopeUsage      *prometheus.GaugeVec // 项目/客户汇总，按 scope、id、resource

	// 分布式锁
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时

	// 生命周期事件
	EventTotal *prometheus.CounterVec // 消费事件数（按类型、结果）
}

// NewSlurmMetrics 创建指标
func NewSlurmMetrics() *SlurmMetrics {
	return &SlurmMetrics{
		CommandTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slurm_command_total",
				Help: "Total number of remote accounting commands",
			},
			[]string{"backend", "op", "result"}, // result: success/failed
		),
		CommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slurm_command_duration_seconds",
				Help:    "Duration of remote accounting commands",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend", "op"},
		),

		AccountOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slurm_account_ops_total",
				Help: "Total number of account create/delete operations",
			},
			[]string{"op", "tier"}, // op: create/delete, tier: customer/project/allocation
		),
		AssociationOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slurm_association_ops_total",
				Help: "Total number of association create/delete operations",
			},
			[]string{"op"},
		),

		UsageSyncTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slurm_usage_sync_total",
				Help: "Total number of usage synchronizations",
			},
			[]string{"result"},
		),
		UsageSyncDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "slurm_usage_sync_duration_seconds",
				Help:    "Duration of usage synchronizations",
				Buckets: prometheus.DefBuckets,
			},
		),
		UsageSkippedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "slurm_usage_skipped_accounts_total",
				Help: "Accounts in usage reports that match no allocation",
			},
		),

		AllocationUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slurm_allocation_usage",
				Help: "Current month usage per allocation",
			},
			[]string{"allocation", "resource"}, // resource: cpu/gpu/ram/deposit
		),
		ScopeUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slurm_scope_usage",
				Help: "Usage summed over the allocations of a project or customer",
			},
			[]string{"scope", "id", "resource"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slurm_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "slurm_lock_acquire_duration_seconds",
				Help:    "Duration of lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}, // 毫秒级
			},
		),

		EventTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slurm_lifecycle_event_total",
				Help: "Total number of consumed lifecycle events",
			},
			[]string{"type", "result"},
		),
	}
}

// 全局指标实例
var (
	defaultMetrics *SlurmMetrics
	once           sync.Once
)

// GetMetrics 获取全局指标实例
func GetMetrics() *SlurmMetrics {
	once.Do(func() {
		defaultMetrics = NewSlurmMetrics()
	})
	return defaultMetrics
}
