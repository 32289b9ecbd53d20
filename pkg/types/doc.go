// Package types 定义 go-rendezvous 的公共基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go     - PeerID, ProtocolID
//   - record.go  - SignedPeerRecord（不透明的已签名节点记录）
//   - errors.go  - 公共错误定义
package types
