// Package protocol 定义 go-rendezvous 使用的协议 ID
//
// 系统协议格式: /dep2p/sys/<protocol>/<version>
package protocol

import (
	"strings"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

// ID 是协议标识符的类型别名
type ID = types.ProtocolID

// PrefixSys 系统协议前缀
const PrefixSys = "/dep2p/sys"

const (
	// Rendezvous 会合点协议
	// 基于命名空间的节点注册与发现，整个连接生命周期内固定在一条流上
	Rendezvous ID = "/dep2p/sys/rendezvous/1.0.0"

	// Plaintext 明文身份交换
	// 参考宿主在原始连接上交换 PeerID，只应运行在已认证的底层通道之上
	Plaintext ID = "/dep2p/sys/plaintext/1.0.0"
)

// SystemProtocols 返回所有系统协议
func SystemProtocols() []ID {
	return []ID{Rendezvous, Plaintext}
}

// IsSystem 判断是否为系统协议
func IsSystem(id ID) bool {
	return strings.HasPrefix(string(id), PrefixSys+"/")
}
