package filing

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// 错误类别
var (
	ErrNotFound   = errors.New("filing: not found")
	ErrForbidden  = errors.New("filing: forbidden")
	ErrConflict   = errors.New("filing: conflict")
	ErrValidation = errors.New("filing: validation failed")
	ErrInternal   = errors.New("filing: internal error")
)

// 禁止原因
const (
	ReasonNotAssigned       = "not currently assigned"
	ReasonSignatureRequired = "signature required"
	ReasonNotCreator        = "not the file creator"
	ReasonNotSuperuser      = "superuser required"
	ReasonNotExecutive      = "top executive role required"
	ReasonNoAccess          = "no access to file"
)

// Error 领域错误，Kind 为上面的类别之一
type Error struct {
	Kind   error
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 同时暴露类别与底层错误
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// NotFoundf 资源不存在
func NotFoundf(op, format string, args ...any) error {
	return newError(ErrNotFound, op, format, args...)
}

// Forbidden 权限不足，reason 为缺失的能力
func Forbidden(op, reason string) error {
	return &Error{Kind: ErrForbidden, Op: op, Detail: reason}
}

// Conflictf 状态冲突
func Conflictf(op, format string, args ...any) error {
	return newError(ErrConflict, op, format, args...)
}

// Validationf 参数校验失败
func Validationf(op, format string, args ...any) error {
	return newError(ErrValidation, op, format, args...)
}

// Internal 包装存储层错误；gorm 未找到记录映射为 NotFound
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: ErrNotFound, Op: op, Err: err}
	}
	return &Error{Kind: ErrInternal, Op: op, Err: err}
}

// Reason 取出禁止原因
func Reason(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Detail
	}
	return ""
}

// KindOf 返回错误类别，未知错误视为 Internal
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrForbidden, ErrConflict, ErrValidation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}
