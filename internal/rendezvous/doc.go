// Package rendezvous 实现基于命名空间的 Rendezvous 协议引擎
//
// # 模块概述
//
// 节点在 Rendezvous Point 上以命名空间登记自己，其他节点向 Point 查询
// 同一命名空间即可找到对方。本包只包含协议本身：
//
//  1. 注册存储
//     - (命名空间, 节点) 唯一
//     - TTL 过期在读路径上惰性判定，Sweep 主动清理
//
//  2. 请求关联
//     - 线上响应不带请求标识，按远端节点维护 FIFO 队列
//     - 不匹配的响应上报 ProtocolViolation，队列保持不变
//
//  3. 消息编解码
//     - protobuf 消息体 + uvarint 长度前缀
//
//  4. 协议引擎
//     - 本地调用与入站消息转换为存储变更、出站消息和事件
//
// 连接建立、认证、流复用与 I/O 循环都由宿主负责（见 internal/host），
// 本包不启动 goroutine，也不做任何 I/O。
//
// # 使用示例
//
//	engine, err := rendezvous.NewEngine(rendezvous.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
//	id, err := engine.Register("my-app/chat", pointID, 0, record)
//	if err != nil {
//	    return err
//	}
//
//	for _, action := range engine.Drain() {
//	    switch a := action.(type) {
//	    case rendezvous.SendMessage:
//	        // 编码后写入与 a.Peer 的 rendezvous 流
//	    case rendezvous.EmitEvent:
//	        // 处理 a.Event
//	    }
//	}
//
// # 并发
//
// Engine、Store、Correlator 都不是并发安全的，必须由单个 goroutine 驱动。
package rendezvous
