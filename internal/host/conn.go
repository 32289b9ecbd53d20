package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	mss "github.com/multiformats/go-multistream"
	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-rendezvous/internal/rendezvous"
	"github.com/dep2p/go-rendezvous/pkg/protocol"
	"github.com/dep2p/go-rendezvous/pkg/types"
)

// maxPeerIDFrame 身份交换帧的最大长度
const maxPeerIDFrame = types.MaxPeerIDLength

// ============================================================================
//                              连接
// ============================================================================

// conn 一条已完成握手的连接
//
// Rendezvous 协议在整个连接生命周期内固定使用同一条流，
// 请求与响应靠同一流上的先后顺序关联。
type conn struct {
	peer     types.PeerID
	outbound bool

	session *yamux.Session
	stream  *yamux.Stream

	out chan rendezvous.Message

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

func newConn(peer types.PeerID, outbound bool, session *yamux.Session, stream *yamux.Stream, queueSize int) *conn {
	return &conn{
		peer:     peer,
		outbound: outbound,
		session:  session,
		stream:   stream,
		out:      make(chan rendezvous.Message, queueSize),
		done:     make(chan struct{}),
	}
}

// send 非阻塞地放入发送队列，队列已满返回 false
func (c *conn) send(m rendezvous.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- m:
		return true
	default:
		return false
	}
}

// close 关闭会话（同时关闭流和底层连接），可重复调用
func (c *conn) close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ============================================================================
//                              握手
// ============================================================================

// handshake 在原始连接上建立 Rendezvous 流
//
// 步骤：
//  1. multistream-select 协商明文身份交换协议
//  2. 交换 uvarint 长度前缀的节点 ID（发起方先写后读，应答方先读后写）
//  3. 建立 yamux 会话，发起方为客户端
//  4. 发起方打开唯一的流并协商 Rendezvous 协议
func handshake(ctx context.Context, raw net.Conn, local types.PeerID, outbound bool, timeout time.Duration, queueSize int) (*conn, error) {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := raw.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %v", ErrHandshake, err)
	}

	remote, err := exchangeIDs(raw, local, outbound)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	// yamux 的接收循环会一直读原始连接
	if err := raw.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: clear deadline: %v", ErrHandshake, err)
	}

	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard

	var session *yamux.Session
	if outbound {
		session, err = yamux.Client(raw, cfg)
	} else {
		session, err = yamux.Server(raw, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: yamux: %v", ErrHandshake, err)
	}

	stream, err := openRendezvousStream(ctx, session, outbound, deadline)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return newConn(remote, outbound, session, stream, queueSize), nil
}

// exchangeIDs 协商明文协议并交换节点 ID
func exchangeIDs(raw net.Conn, local types.PeerID, outbound bool) (types.PeerID, error) {
	var remote types.PeerID
	var err error

	if outbound {
		if err = mss.SelectProtoOrFail(string(protocol.Plaintext), raw); err != nil {
			return "", fmt.Errorf("select %s: %w", protocol.Plaintext, err)
		}
		if err = writeIDFrame(raw, local); err != nil {
			return "", err
		}
		if remote, err = readIDFrame(raw); err != nil {
			return "", err
		}
	} else {
		mux := mss.NewMultistreamMuxer[string]()
		mux.AddHandler(string(protocol.Plaintext), nil)
		if _, _, err = mux.Negotiate(raw); err != nil {
			return "", fmt.Errorf("negotiate %s: %w", protocol.Plaintext, err)
		}
		if remote, err = readIDFrame(raw); err != nil {
			return "", err
		}
		if err = writeIDFrame(raw, local); err != nil {
			return "", err
		}
	}

	if remote == local {
		return "", errors.New("remote peer presented our own id")
	}
	return remote, nil
}

// openRendezvousStream 打开（发起方）或接受（应答方）Rendezvous 流
func openRendezvousStream(ctx context.Context, session *yamux.Session, outbound bool, deadline time.Time) (*yamux.Stream, error) {
	if outbound {
		stream, err := session.OpenStream()
		if err != nil {
			return nil, fmt.Errorf("open stream: %w", err)
		}
		stream.SetDeadline(deadline)
		if err := mss.SelectProtoOrFail(string(protocol.Rendezvous), stream); err != nil {
			stream.Close()
			return nil, fmt.Errorf("select %s: %w", protocol.Rendezvous, err)
		}
		stream.SetDeadline(time.Time{})
		return stream, nil
	}

	acceptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	stream, err := session.AcceptStreamWithContext(acceptCtx)
	if err != nil {
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	stream.SetDeadline(deadline)
	mux := mss.NewMultistreamMuxer[string]()
	mux.AddHandler(string(protocol.Rendezvous), nil)
	if _, _, err := mux.Negotiate(stream); err != nil {
		stream.Close()
		return nil, fmt.Errorf("negotiate %s: %w", protocol.Rendezvous, err)
	}
	stream.SetDeadline(time.Time{})
	return stream, nil
}

func writeIDFrame(w io.Writer, id types.PeerID) error {
	frame := varint.ToUvarint(uint64(len(id)))
	frame = append(frame, id...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write peer id: %w", err)
	}
	return nil
}

// readIDFrame 逐字节读取长度前缀，避免读过帧尾吞掉 yamux 的数据
func readIDFrame(r io.Reader) (types.PeerID, error) {
	n, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return "", fmt.Errorf("read peer id length: %w", err)
	}
	if n > maxPeerIDFrame {
		return "", fmt.Errorf("peer id length %d exceeds %d", n, maxPeerIDFrame)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read peer id: %w", err)
	}
	return types.PeerIDFromBytes(buf)
}

type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
