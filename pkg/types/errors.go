package types

import "errors"

// 公共错误定义
var (
	// ErrEmptyPeerID 空的节点 ID
	ErrEmptyPeerID = errors.New("empty peer ID")

	// ErrInvalidPeerID 无效的节点 ID
	ErrInvalidPeerID = errors.New("invalid peer ID")

	// ErrEmptyRecord 空的节点记录
	ErrEmptyRecord = errors.New("empty signed peer record")
)
