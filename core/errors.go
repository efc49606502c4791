package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），errors.Is 按 Module + Code 匹配
//
// 传播策略：
//   - INVALID_SCORE / UNKNOWN_USER / UNKNOWN_ITEM：写请求不合法，直接返回给调用方
//   - MODEL_ABSENT / PREDICTION_FAILURE：在推荐内部降级（冷启动或空列表），不向外抛出
type DomainError struct {
	Code    string // 错误代码（如 "INVALID_SCORE", "UNKNOWN_ITEM"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "model", "engine"）
	Err     error  // 底层原因（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrModelAbsent) 之类的判断按 Module + Code 生效。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// IsDomainError 检查错误链中是否包含 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeConflict      = "CONFLICT"       // 资源冲突（如用户名已存在）
	ErrorCodeUnauthorized  = "UNAUTHORIZED"   // 身份校验失败
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 推荐领域错误代码
	ErrorCodeInvalidScore      = "INVALID_SCORE"      // 评分不在 [0.5, 5.0]
	ErrorCodeUnknownUser       = "UNKNOWN_USER"       // 用户不存在
	ErrorCodeUnknownItem       = "UNKNOWN_ITEM"       // 电影不存在
	ErrorCodeModelAbsent       = "MODEL_ABSENT"       // 没有训练好的模型
	ErrorCodePredictionFailure = "PREDICTION_FAILURE" // 单次预测失败
)

// 模块名称常量
const (
	ModuleStore   = "store"   // 存储模块
	ModuleDataset = "dataset" // 数据访问模块
	ModuleModel   = "model"   // 隐因子模型
	ModuleEngine  = "engine"  // 推荐引擎
	ModuleAccount = "account" // 账号模块
)

var (
	// ErrModelAbsent 表示模型处于缺失状态（评分集为空时训练）
	ErrModelAbsent = NewDomainError(ModuleModel, ErrorCodeModelAbsent, "model: no trained model")

	// ErrInvalidScore 用于 errors.Is 判断
	ErrInvalidScore = NewDomainError("", ErrorCodeInvalidScore, "invalid score")

	// ErrUnknownUser 用于 errors.Is 判断
	ErrUnknownUser = NewDomainError("", ErrorCodeUnknownUser, "unknown user")

	// ErrUnknownItem 用于 errors.Is 判断
	ErrUnknownItem = NewDomainError("", ErrorCodeUnknownItem, "unknown movie")
)

// NewInvalidScoreError 构造评分越界错误。
func NewInvalidScoreError(score float64) *DomainError {
	return NewDomainError(ModuleEngine, ErrorCodeInvalidScore,
		fmt.Sprintf("rating must be between %.1f and %.1f, got %v", MinScore, MaxScore, score))
}

// NewUnknownUserError 构造用户不存在错误。
func NewUnknownUserError(module string, userID int64) *DomainError {
	return NewDomainError(module, ErrorCodeUnknownUser, fmt.Sprintf("user %d not found", userID))
}

// NewUnknownItemError 构造电影不存在错误。
func NewUnknownItemError(module string, movieID int64) *DomainError {
	return NewDomainError(module, ErrorCodeUnknownItem, fmt.Sprintf("movie %d not found", movieID))
}

// NewPredictionFailure 构造单次预测失败错误。
func NewPredictionFailure(userID, movieID int64, cause error) *DomainError {
	return &DomainError{
		Module:  ModuleModel,
		Code:    ErrorCodePredictionFailure,
		Message: fmt.Sprintf("predict user=%d movie=%d", userID, movieID),
		Err:     cause,
	}
}

// 通用错误检查函数

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsInvalidInput 检查错误是否为 INVALID_INPUT 或 INVALID_SCORE
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrorCodeInvalidInput) || hasCode(err, ErrorCodeInvalidScore)
}

// IsUnknownID 检查错误是否为 UNKNOWN_USER / UNKNOWN_ITEM
func IsUnknownID(err error) bool {
	return hasCode(err, ErrorCodeUnknownUser) || hasCode(err, ErrorCodeUnknownItem)
}

// IsRecoverable 检查错误是否属于推荐内部可降级的错误（MODEL_ABSENT / PREDICTION_FAILURE）
func IsRecoverable(err error) bool {
	return hasCode(err, ErrorCodeModelAbsent) || hasCode(err, ErrorCodePredictionFailure)
}

// IsConflict 检查错误是否为 CONFLICT
func IsConflict(err error) bool { return hasCode(err, ErrorCodeConflict) }

// IsUnauthorized 检查错误是否为 UNAUTHORIZED
func IsUnauthorized(err error) bool { return hasCode(err, ErrorCodeUnauthorized) }
