package host

import "errors"

// 预定义错误
var (
	// ErrClosed 宿主已关闭
	ErrClosed = errors.New("host: closed")

	// ErrNotStarted 宿主未启动
	ErrNotStarted = errors.New("host: not started")

	// ErrNotConnected 与目标节点没有连接
	ErrNotConnected = errors.New("host: peer not connected")

	// ErrDuplicateConn 与该节点已存在连接
	ErrDuplicateConn = errors.New("host: duplicate connection")

	// ErrTooManyConns 连接数达到上限
	ErrTooManyConns = errors.New("host: too many connections")

	// ErrNoLocalRecord 没有可用于注册的本地签名记录
	ErrNoLocalRecord = errors.New("host: no local record")

	// ErrHandshake 握手失败
	ErrHandshake = errors.New("host: handshake failed")
)
