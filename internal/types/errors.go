package types

import (
	"fmt"
	"strings"
)

// ========================================
// DAV Error Types - DAV错误类型定义
// ========================================

// ErrorKind DAV错误类别
type ErrorKind int

const (
	// ErrNotFound 属性或资源不存在（或不受支持）
	ErrNotFound ErrorKind = iota
	// ErrForbidden 写操作不被允许（只读后端、受保护属性等）
	ErrForbidden
	// ErrInternal 后端违反了自身约定（内部一致性错误）
	ErrInternal
)

// PreconditionProtectedProperty 受保护属性前置条件代码
// 客户端试图覆盖 lockdiscovery/supportedlock 时必须返回该代码
const PreconditionProtectedProperty = "protected-property"

// DAVError 带类别的DAV错误
type DAVError struct {
	Kind         ErrorKind
	Message      string
	Precondition string
}

func (e *DAVError) Error() string {
	if e.Precondition != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Precondition)
	}
	return e.Message
}

// NewNotFound 创建NotFound错误
func NewNotFound(format string, args ...interface{}) *DAVError {
	return &DAVError{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewForbidden 创建Forbidden错误
func NewForbidden(format string, args ...interface{}) *DAVError {
	return &DAVError{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

// NewProtectedProperty 创建受保护属性Forbidden错误
func NewProtectedProperty(name string) *DAVError {
	return &DAVError{
		Kind:         ErrForbidden,
		Message:      fmt.Sprintf("property %s is protected", name),
		Precondition: PreconditionProtectedProperty,
	}
}

// NewInternal 创建内部一致性错误
func NewInternal(format string, args ...interface{}) *DAVError {
	return &DAVError{Kind: ErrInternal, Message: fmt.Sprintf(format, args...)}
}

// AsDAVError 将任意错误转换为DAVError
func AsDAVError(err error) *DAVError {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DAVError); ok {
		return de
	}
	return &DAVError{Kind: ErrInternal, Message: err.Error()}
}

// IsNotFound 检查错误是否为NotFound类别
func IsNotFound(err error) bool {
	de, ok := err.(*DAVError)
	return ok && de.Kind == ErrNotFound
}

// IsForbidden 检查错误是否为Forbidden类别
func IsForbidden(err error) bool {
	de, ok := err.(*DAVError)
	return ok && de.Kind == ErrForbidden
}

// ========================================
// Partial Failure - 批量操作的部分失败
// ========================================

// RefError 单个资源的 (引用键, 错误) 对
type RefError struct {
	RefURL string
	Err    *DAVError
}

// PartialFailure 批量操作的部分失败结果
// 批量 DELETE/COPY/MOVE 不中止遍历，逐项收集失败
type PartialFailure struct {
	Errors []RefError
}

func (p *PartialFailure) Error() string {
	parts := make([]string, 0, len(p.Errors))
	for _, re := range p.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", re.RefURL, re.Err.Message))
	}
	return fmt.Sprintf("partial failure (%d): %s", len(p.Errors), strings.Join(parts, "; "))
}
