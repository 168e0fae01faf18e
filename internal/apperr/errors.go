package apperr

import (
	"errors"
	"fmt"
)

// ErrConflict 条件更新时状态不匹配。重复投递下属于预期情况，调用方按
// 成功空操作处理，不向外暴露。
var ErrConflict = errors.New("status conflict")

// ValidationError 上传请求本身不合法，同步返回给调用方，不创建提交记录
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func Validation(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError 按存储键查询不到提交记录
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return "submission not found: " + e.Key
}

// ConversionError 转换阶段不可恢复失败，驱动提交进入终态 ERROR
type ConversionError struct {
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conversion failed: %s: %v", e.Reason, e.Err)
	}
	return "conversion failed: " + e.Reason
}

func (e *ConversionError) Unwrap() error { return e.Err }

func Conversion(reason string, err error) error {
	return &ConversionError{Reason: reason, Err: err}
}

// InferenceError 模型调用失败。Transient 标记瞬时错误（限流、超时），
// 只有瞬时错误才允许重试。
type InferenceError struct {
	Transient bool
	Err       error
}

func (e *InferenceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("inference failed (%s): %v", kind, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsTransientInference reports whether err is a retryable inference error.
func IsTransientInference(err error) bool {
	var infErr *InferenceError
	return errors.As(err, &infErr) && infErr.Transient
}
