package errors

import (
	stderrors "errors"
	"strconv"

	"slurm-service/internal/batch"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	i18nPkg "github.com/gaoyong06/go-pkg/middleware/i18n"
	kerrors "github.com/go-kratos/kratos/v2/errors"
)

func init() {
	// 初始化全局错误管理器，消息文件位于 configs/i18n
	pkgErrors.InitGlobalErrorManager("configs/i18n", i18nPkg.Language)
}

// Slurm Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，Slurm 固定为 20
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   00: 通用模块（复用 go-pkg 通用错误码）
//   01: 分配模块
//   02: 记账后端模块
//   03: 锁模块
//   04: 身份目录模块
//   05: 用量模块
//   06-99: 预留扩展

// 分配模块错误码 (200100-200199)
const (
	// ErrCodeAllocationNotFound 分配不存在
	ErrCodeAllocationNotFound = 200101
	// ErrCodeAllocationCreateFailed 分配登记失败
	ErrCodeAllocationCreateFailed = 200102
	// ErrCodeAllocationGetFailed 查询分配失败
	ErrCodeAllocationGetFailed = 200103
	// ErrCodeAllocationUpdateFailed 更新分配失败
	ErrCodeAllocationUpdateFailed = 200104
	// ErrCodeAllocationDeleteFailed 删除分配失败
	ErrCodeAllocationDeleteFailed = 200105
	// ErrCodeInvalidArgument 参数错误
	ErrCodeInvalidArgument = 200106
	// ErrCodeInvalidIdentifier 实体 id 或用户名不合法
	ErrCodeInvalidIdentifier = 200107
)

// 记账后端模块错误码 (200200-200299)
const (
	// ErrCodeBackendCommandFailed 后端命令执行失败
	ErrCodeBackendCommandFailed = 200201
	// ErrCodeBackendNotConfigured 后端主机未配置
	ErrCodeBackendNotConfigured = 200202
)

// 锁模块错误码 (200300-200399)
const (
	// ErrCodeAllocationLockFailed 获取分配锁失败
	ErrCodeAllocationLockFailed = 200301
	// ErrCodeSyncLockFailed 获取同步锁失败
	ErrCodeSyncLockFailed = 200302
)

// 身份目录模块错误码 (200400-200499)
const (
	// ErrCodeProfileGetFailed 查询用户档案失败
	ErrCodeProfileGetFailed = 200401
	// ErrCodeProfileSaveFailed 保存用户档案失败
	ErrCodeProfileSaveFailed = 200402
	// ErrCodeMemberUpdateFailed 更新成员关系失败
	ErrCodeMemberUpdateFailed = 200403
	// ErrCodeMemberListFailed 查询成员关系失败
	ErrCodeMemberListFailed = 200404
)

// 用量模块错误码 (200500-200599)
const (
	// ErrCodeUsageSaveFailed 保存用量失败
	ErrCodeUsageSaveFailed = 200501
	// ErrCodeUsageListFailed 查询用量失败
	ErrCodeUsageListFailed = 200502
)

// HTTP 层错误原因。go-pkg 业务错误不携带远端输出，
// 以下几类在服务边界转换为 kratos 错误，metadata 中保留错误码。
const (
	// ReasonAllocationNotFound 分配不存在
	ReasonAllocationNotFound = "ALLOCATION_NOT_FOUND"
	// ReasonInvalidArgument 参数错误
	ReasonInvalidArgument = "INVALID_ARGUMENT"
	// ReasonBackendError 记账后端命令失败
	ReasonBackendError = "BACKEND_ERROR"
	// ReasonLockFailed 获取锁失败
	ReasonLockFailed = "LOCK_FAILED"
	// ReasonInternal 内部错误
	ReasonInternal = "INTERNAL"
)

// 后端失败使用 502，锁冲突使用 409
const (
	codeBackendError = 502
	codeLockFailed   = 409
)

const metadataCode = "code"

func codeMetadata(code int, kv ...string) map[string]string {
	md := map[string]string{metadataCode: strconv.Itoa(code)}
	for i := 0; i+1 < len(kv); i += 2 {
		md[kv[i]] = kv[i+1]
	}
	return md
}

// ErrAllocationNotFound 分配不存在
func ErrAllocationNotFound(id string) *kerrors.Error {
	return kerrors.NotFound(ReasonAllocationNotFound, "allocation not found").
		WithMetadata(codeMetadata(ErrCodeAllocationNotFound, "allocation_id", id))
}

// ErrInvalidArgument 参数错误
func ErrInvalidArgument(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(400, ReasonInvalidArgument, format, args...).
		WithMetadata(codeMetadata(ErrCodeInvalidArgument))
}

// ErrInvalidIdentifier 实体 id 或用户名不合法
func ErrInvalidIdentifier(field, value string) *kerrors.Error {
	return kerrors.Newf(400, ReasonInvalidArgument, "invalid %s %q", field, value).
		WithMetadata(codeMetadata(ErrCodeInvalidIdentifier, "field", field))
}

// ErrLockFailed 获取锁失败，code 区分分配锁与同步锁
func ErrLockFailed(code int, key string, cause error) *kerrors.Error {
	return kerrors.New(codeLockFailed, ReasonLockFailed, "resource is busy").
		WithMetadata(codeMetadata(code, "lock", key)).
		WithCause(cause)
}

// Code 取出错误携带的错误码，没有时返回 0
func Code(err error) int {
	var kerr *kerrors.Error
	if !stderrors.As(err, &kerr) {
		return 0
	}
	code, _ := strconv.Atoi(kerr.Metadata[metadataCode])
	return code
}

// FromError 将业务层错误转换为 kratos 错误
func FromError(err error) error {
	if err == nil {
		return nil
	}
	var kerr *kerrors.Error
	if stderrors.As(err, &kerr) {
		return err
	}
	if stderrors.Is(err, batch.ErrInvalidName) {
		return kerrors.New(400, ReasonInvalidArgument, err.Error()).
			WithMetadata(codeMetadata(ErrCodeInvalidIdentifier)).
			WithCause(err)
	}
	var backendErr *batch.BackendError
	if stderrors.As(err, &backendErr) {
		return kerrors.New(codeBackendError, ReasonBackendError, err.Error()).
			WithMetadata(codeMetadata(ErrCodeBackendCommandFailed,
				"op", backendErr.Op,
				"output", backendErr.Output,
			)).
			WithCause(err)
	}
	return kerrors.InternalServer(ReasonInternal, err.Error()).WithCause(err)
}
