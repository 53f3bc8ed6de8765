package constants

// Redis Key 前缀常量
const (
	// RedisKeyAllocationLock 分配操作锁 key 前缀
	RedisKeyAllocationLock = "slurm:lock:allocation:"
	// RedisKeySyncLock 全量同步锁 key
	RedisKeySyncLock = "slurm:lock:sync"
	// RedisKeyUsername 用户名缓存 key 前缀
	RedisKeyUsername = "slurm:username:"
)

// 账户层级常量（账户名中的类型段）
const (
	// TierCustomer 客户
	TierCustomer = "customer"
	// TierProject 项目
	TierProject = "project"
	// TierAllocation 分配
	TierAllocation = "allocation"
)

// 分配状态常量
const (
	// AllocationStateOK 正常
	AllocationStateOK = "OK"
	// AllocationStateErred 出错
	AllocationStateErred = "Erred"
)

// 资源名常量（用于指标标签）
const (
	ResourceCPU     = "cpu"
	ResourceGPU     = "gpu"
	ResourceRAM     = "ram"
	ResourceDeposit = "deposit"
)

// 操作结果常量（用于指标）
const (
	// ResultSuccess 成功
	ResultSuccess = "success"
	// ResultFailed 失败
	ResultFailed = "failed"
	// ResultSkipped 跳过
	ResultSkipped = "skipped"
)

// 账户/关联操作常量（用于指标）
const (
	OpCreate = "create"
	OpDelete = "delete"
)
