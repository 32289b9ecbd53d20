// Package host 提供 Rendezvous 引擎的参考宿主
//
// 宿主负责引擎不做的部分：TCP 监听与拨号、连接握手、流复用、
// 帧读写、定时清理与请求超时。
//
// # 连接建立
//
//  1. 原始连接上用 multistream-select 协商 /dep2p/sys/plaintext/1.0.0
//  2. 交换 uvarint 长度前缀的节点 ID
//  3. 建立 yamux 会话（发起方为客户端）
//  4. 发起方打开唯一一条流并协商 /dep2p/sys/rendezvous/1.0.0
//
// 两个方向的请求与响应都走这一条流，响应靠流上的先后顺序关联。
// 已连接节点的第二条连接会被拒绝。
//
// 明文身份交换不做认证，只适合运行在已认证的通道之上或测试环境中。
//
// # 并发模型
//
// 一个循环 goroutine 独占 Engine，公开方法把闭包发送给循环执行；
// 每条连接的读 goroutine 只负责解码，写 goroutine 只负责编码发送。
//
// # 使用示例
//
//	h, err := host.New(host.DefaultConfig(), localID, host.WithLocalRecord(rec))
//	if err != nil {
//	    return err
//	}
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	point, err := h.Connect(ctx, "127.0.0.1:4001")
//	if err != nil {
//	    return err
//	}
//	ttl, err := h.RegisterSync(ctx, "my-app/chat", point, 0)
package host
