package rendezvous

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	// ErrInvalidNamespace 无效的命名空间
	ErrInvalidNamespace = errors.New("rendezvous: invalid namespace")

	// ErrInvalidTTL 无效的 TTL
	ErrInvalidTTL = errors.New("rendezvous: invalid TTL")

	// ErrInvalidRecord 无效的签名节点记录
	ErrInvalidRecord = errors.New("rendezvous: invalid signed peer record")

	// ErrNotAuthorized 未授权
	ErrNotAuthorized = errors.New("rendezvous: not authorized")

	// ErrInternalError 内部错误
	ErrInternalError = errors.New("rendezvous: internal error")

	// ErrUnavailable 服务不可用
	ErrUnavailable = errors.New("rendezvous: service unavailable")

	// ErrInvalidTarget 目标节点无效
	ErrInvalidTarget = errors.New("rendezvous: invalid target peer")

	// ErrUnexpectedResponse 收到响应但没有等待中的请求
	ErrUnexpectedResponse = errors.New("rendezvous: response without pending request")

	// ErrResponseMismatch 响应类型与队首等待请求不匹配
	ErrResponseMismatch = errors.New("rendezvous: response does not match pending request")

	// ErrMessageTooLarge 消息过大
	ErrMessageTooLarge = errors.New("rendezvous: message too large")

	// ErrTruncated 数据不足以解码一条完整消息
	ErrTruncated = errors.New("rendezvous: truncated message")

	// ErrMalformed 消息结构不合法
	ErrMalformed = errors.New("rendezvous: malformed message")
)

// ============================================================================
//                              ErrorCode
// ============================================================================

// ErrorCode 线上错误码
//
// 取值与 libp2p rendezvous 的 ResponseStatus 对齐，CodeOK 表示成功。
type ErrorCode uint32

const (
	// CodeOK 成功
	CodeOK ErrorCode = 0
	// CodeInvalidNamespace 无效命名空间
	CodeInvalidNamespace ErrorCode = 100
	// CodeInvalidRecord 无效节点记录
	CodeInvalidRecord ErrorCode = 101
	// CodeInvalidTTL 无效 TTL
	CodeInvalidTTL ErrorCode = 102
	// CodeNotAuthorized 未授权
	CodeNotAuthorized ErrorCode = 200
	// CodeInternal 内部错误
	CodeInternal ErrorCode = 300
	// CodeUnavailable 不可用
	CodeUnavailable ErrorCode = 400
)

// String 返回错误码名称
func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalidNamespace:
		return "InvalidNamespace"
	case CodeInvalidRecord:
		return "InvalidRecord"
	case CodeInvalidTTL:
		return "InvalidTtl"
	case CodeNotAuthorized:
		return "NotAuthorized"
	case CodeInternal:
		return "Internal"
	case CodeUnavailable:
		return "Unavailable"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint32(c))
	}
}

// Valid 是否为已知错误码
func (c ErrorCode) Valid() bool {
	switch c {
	case CodeOK, CodeInvalidNamespace, CodeInvalidRecord, CodeInvalidTTL,
		CodeNotAuthorized, CodeInternal, CodeUnavailable:
		return true
	}
	return false
}

// Err 将错误码转换为对应的哨兵错误，CodeOK 返回 nil
func (c ErrorCode) Err() error {
	switch c {
	case CodeOK:
		return nil
	case CodeInvalidNamespace:
		return ErrInvalidNamespace
	case CodeInvalidRecord:
		return ErrInvalidRecord
	case CodeInvalidTTL:
		return ErrInvalidTTL
	case CodeNotAuthorized:
		return ErrNotAuthorized
	case CodeUnavailable:
		return ErrUnavailable
	default:
		return ErrInternalError
	}
}

// CodeFromError 将错误映射为线上错误码
func CodeFromError(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidNamespace):
		return CodeInvalidNamespace
	case errors.Is(err, ErrInvalidRecord):
		return CodeInvalidRecord
	case errors.Is(err, ErrInvalidTTL):
		return CodeInvalidTTL
	case errors.Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// ============================================================================
//                              DecodeError
// ============================================================================

// DecodeErrorKind 解码错误类别
type DecodeErrorKind int

const (
	// DecodeTruncated 字节不足
	DecodeTruncated DecodeErrorKind = iota + 1
	// DecodeMalformed 结构违规
	DecodeMalformed
)

// DecodeError 解码错误
type DecodeError struct {
	Kind   DecodeErrorKind
	Reason string
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case DecodeTruncated:
		return fmt.Sprintf("%s: %s", ErrTruncated, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", ErrMalformed, e.Reason)
	}
}

// Is 使 errors.Is(err, ErrTruncated / ErrMalformed) 生效
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrTruncated:
		return e.Kind == DecodeTruncated
	case ErrMalformed:
		return e.Kind == DecodeMalformed
	}
	return false
}

func truncated(format string, args ...any) error {
	return &DecodeError{Kind: DecodeTruncated, Reason: fmt.Sprintf(format, args...)}
}

func malformed(format string, args ...any) error {
	return &DecodeError{Kind: DecodeMalformed, Reason: fmt.Sprintf(format, args...)}
}
