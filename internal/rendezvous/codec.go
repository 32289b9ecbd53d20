package rendezvous

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/multiformats/go-varint"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

// ============================================================================
//                              协议常量
// ============================================================================

// MaxMessageSize 单条消息体最大字节数 (1MB)
const MaxMessageSize = 1 << 20

// 线上字段编号，与 libp2p rendezvous.proto 兼容；Register.id(4) 为扩展字段，
// 在发现响应中携带注册者的 PeerID。
const (
	fieldType             protowire.Number = 1
	fieldRegister         protowire.Number = 2
	fieldRegisterResponse protowire.Number = 3
	fieldUnregister       protowire.Number = 4
	fieldDiscover         protowire.Number = 5
	fieldDiscoverResponse protowire.Number = 6

	// Register
	fieldRegNs     protowire.Number = 1
	fieldRegRecord protowire.Number = 2
	fieldRegTTL    protowire.Number = 3
	fieldRegID     protowire.Number = 4

	// RegisterResponse
	fieldRespStatus     protowire.Number = 1
	fieldRespStatusText protowire.Number = 2
	fieldRespTTL        protowire.Number = 3

	// Unregister
	fieldUnregNs protowire.Number = 1
	fieldUnregID protowire.Number = 2

	// Discover
	fieldDiscNs     protowire.Number = 1
	fieldDiscLimit  protowire.Number = 2
	fieldDiscCookie protowire.Number = 3

	// DiscoverResponse
	fieldDiscRespRegs       protowire.Number = 1
	fieldDiscRespCookie     protowire.Number = 2
	fieldDiscRespStatus     protowire.Number = 3
	fieldDiscRespStatusText protowire.Number = 4
)

// ============================================================================
//                              分帧
// ============================================================================

// Encode 编码消息并加上 uvarint 长度前缀
func Encode(m Message) ([]byte, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, varint.UvarintSize(uint64(len(body)))+len(body))
	out = append(out, varint.ToUvarint(uint64(len(body)))...)
	return append(out, body...), nil
}

// Decode 从缓冲区解码一条带长度前缀的消息
//
// 返回消息和消耗的字节数。缓冲区不足一条完整消息时返回 ErrTruncated，
// 调用方应继续缓冲后重试。
func Decode(buf []byte) (Message, int, error) {
	length, n, err := varint.FromUvarint(buf)
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return nil, 0, truncated("length prefix")
		}
		return nil, 0, malformed("length prefix: %v", err)
	}
	if length > MaxMessageSize {
		return nil, 0, malformed("message length %d exceeds %d", length, MaxMessageSize)
	}
	end := n + int(length)
	if len(buf) < end {
		return nil, 0, truncated("need %d bytes, have %d", end, len(buf))
	}
	m, err := Unmarshal(buf[n:end])
	if err != nil {
		return nil, 0, err
	}
	return m, end, nil
}

// WriteMessage 写入一条带长度前缀的消息
func WriteMessage(w io.Writer, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadMessage 从流中读取一条带长度前缀的消息
//
// 流在消息边界处结束时返回 io.EOF；消息中途结束返回 ErrTruncated。
func ReadMessage(r *bufio.Reader) (Message, error) {
	length, err := varint.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, truncated("length prefix")
		}
		return nil, malformed("length prefix: %v", err)
	}
	if length > MaxMessageSize {
		return nil, malformed("message length %d exceeds %d", length, MaxMessageSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, truncated("body: %v", err)
		}
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return Unmarshal(body)
}

// ============================================================================
//                              编码
// ============================================================================

// Marshal 将消息编码为 protobuf 消息体（不含长度前缀）
//
// 只做结构检查：拒绝未知错误码，以及携带 TTL 或注册列表的失败响应。
func Marshal(m Message) ([]byte, error) {
	var sub []byte
	var field protowire.Number

	switch msg := m.(type) {
	case *RegisterRequest:
		if msg == nil {
			return nil, fmt.Errorf("%w: nil message", ErrMalformed)
		}
		field = fieldRegister
		sub = appendRegister(nil, msg.Namespace, msg.Record, msg.TTL, types.EmptyPeerID)

	case *RegisterResponse:
		if msg == nil {
			return nil, fmt.Errorf("%w: nil message", ErrMalformed)
		}
		if !msg.Code.Valid() {
			return nil, fmt.Errorf("%w: unknown status %d", ErrMalformed, msg.Code)
		}
		if msg.Code != CodeOK && msg.TTL != 0 {
			return nil, fmt.Errorf("%w: error response carries ttl", ErrMalformed)
		}
		field = fieldRegisterResponse
		sub = appendStatus(nil, fieldRespStatus, msg.Code)
		sub = appendUint(sub, fieldRespTTL, uint64(msg.TTL))

	case *UnregisterRequest:
		if msg == nil {
			return nil, fmt.Errorf("%w: nil message", ErrMalformed)
		}
		field = fieldUnregister
		sub = appendString(nil, fieldUnregNs, msg.Namespace)

	case *DiscoverRequest:
		if msg == nil {
			return nil, fmt.Errorf("%w: nil message", ErrMalformed)
		}
		field = fieldDiscover
		sub = appendString(nil, fieldDiscNs, msg.Namespace)
		sub = appendUint(sub, fieldDiscLimit, msg.Limit)

	case *DiscoverResponse:
		if msg == nil {
			return nil, fmt.Errorf("%w: nil message", ErrMalformed)
		}
		if !msg.Code.Valid() {
			return nil, fmt.Errorf("%w: unknown status %d", ErrMalformed, msg.Code)
		}
		if msg.Code != CodeOK && len(msg.Registrations) > 0 {
			return nil, fmt.Errorf("%w: error response carries registrations", ErrMalformed)
		}
		field = fieldDiscoverResponse
		for _, reg := range msg.Registrations {
			entry := appendRegister(nil, reg.Namespace, reg.Record, reg.TTL, reg.Peer)
			sub = protowire.AppendTag(sub, fieldDiscRespRegs, protowire.BytesType)
			sub = protowire.AppendBytes(sub, entry)
		}
		sub = appendStatus(sub, fieldDiscRespStatus, msg.Code)

	default:
		return nil, fmt.Errorf("%w: unsupported message %T", ErrMalformed, m)
	}

	// type 字段总是写出，即便是默认值 REGISTER(0)
	out := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(m.Type()))
	out = protowire.AppendTag(out, field, protowire.BytesType)
	out = protowire.AppendBytes(out, sub)

	if len(out) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return out, nil
}

func appendRegister(b []byte, ns string, record types.SignedPeerRecord, ttl uint32, peer types.PeerID) []byte {
	b = appendString(b, fieldRegNs, ns)
	if len(record) > 0 {
		b = protowire.AppendTag(b, fieldRegRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, record)
	}
	b = appendUint(b, fieldRegTTL, uint64(ttl))
	if !peer.IsEmpty() {
		b = protowire.AppendTag(b, fieldRegID, protowire.BytesType)
		b = protowire.AppendBytes(b, peer.Bytes())
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStatus(b []byte, num protowire.Number, code ErrorCode) []byte {
	return appendUint(b, num, uint64(code))
}

// ============================================================================
//                              解码
// ============================================================================

// Unmarshal 解码 protobuf 消息体（不含长度前缀）
//
// 未知字段按 protobuf 规则跳过；未知消息类型、缺失或多余的消息体、
// 不可能的字段组合均返回 ErrMalformed。
func Unmarshal(body []byte) (Message, error) {
	msgType := TypeRegister
	var bodies [fieldDiscoverResponse + 1][]byte
	var present [fieldDiscoverResponse + 1]bool

	err := walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldType:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			if v > math.MaxInt32 {
				return 0, malformed("unknown message type %d", v)
			}
			msgType = MessageType(v)
			return n, nil

		case fieldRegister, fieldRegisterResponse, fieldUnregister, fieldDiscover, fieldDiscoverResponse:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			if present[num] {
				return 0, malformed("duplicate field %d", num)
			}
			present[num] = true
			bodies[num] = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}

	var want protowire.Number
	switch msgType {
	case TypeRegister:
		want = fieldRegister
	case TypeRegisterResponse:
		want = fieldRegisterResponse
	case TypeUnregister:
		want = fieldUnregister
	case TypeDiscover:
		want = fieldDiscover
	case TypeDiscoverResponse:
		want = fieldDiscoverResponse
	default:
		return nil, malformed("unknown message type %d", int32(msgType))
	}
	for f := fieldRegister; f <= fieldDiscoverResponse; f++ {
		if f == want && !present[f] {
			return nil, malformed("%s without body", msgType)
		}
		if f != want && present[f] {
			return nil, malformed("%s carries body of field %d", msgType, f)
		}
	}

	switch msgType {
	case TypeRegister:
		reg, err := decodeRegister(bodies[want])
		if err != nil {
			return nil, err
		}
		return &RegisterRequest{Namespace: reg.Namespace, TTL: reg.TTL, Record: reg.Record}, nil
	case TypeRegisterResponse:
		return decodeRegisterResponse(bodies[want])
	case TypeUnregister:
		return decodeUnregister(bodies[want])
	case TypeDiscover:
		return decodeDiscover(bodies[want])
	default:
		return decodeDiscoverResponse(bodies[want])
	}
}

func decodeRegister(b []byte) (WireRegistration, error) {
	var reg WireRegistration
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRegNs:
			v, n, err := consumeBytes(num, typ, b)
			reg.Namespace = string(v)
			return n, err
		case fieldRegRecord:
			v, n, err := consumeBytes(num, typ, b)
			reg.Record = types.SignedPeerRecord(v).Clone()
			return n, err
		case fieldRegTTL:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			ttl, err := toTTL(v)
			reg.TTL = ttl
			return n, err
		case fieldRegID:
			v, n, err := consumeBytes(num, typ, b)
			reg.Peer = types.PeerID(v)
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return WireRegistration{}, err
	}
	if len(reg.Record) == 0 {
		reg.Record = nil
	}
	return reg, nil
}

func decodeRegisterResponse(b []byte) (*RegisterResponse, error) {
	resp := &RegisterResponse{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRespStatus:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			code, err := toCode(v)
			resp.Code = code
			return n, err
		case fieldRespStatusText:
			_, n, err := consumeBytes(num, typ, b)
			return n, err
		case fieldRespTTL:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			ttl, err := toTTL(v)
			resp.TTL = ttl
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeOK && resp.TTL != 0 {
		return nil, malformed("error response %s carries ttl", resp.Code)
	}
	return resp, nil
}

func decodeUnregister(b []byte) (*UnregisterRequest, error) {
	req := &UnregisterRequest{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldUnregNs:
			v, n, err := consumeBytes(num, typ, b)
			req.Namespace = string(v)
			return n, err
		case fieldUnregID:
			// 服务端以连接身份为准，忽略自报的 id
			_, n, err := consumeBytes(num, typ, b)
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func decodeDiscover(b []byte) (*DiscoverRequest, error) {
	req := &DiscoverRequest{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldDiscNs:
			v, n, err := consumeBytes(num, typ, b)
			req.Namespace = string(v)
			return n, err
		case fieldDiscLimit:
			v, n, err := consumeVarint(num, typ, b)
			req.Limit = v
			return n, err
		case fieldDiscCookie:
			_, n, err := consumeBytes(num, typ, b)
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func decodeDiscoverResponse(b []byte) (*DiscoverResponse, error) {
	resp := &DiscoverResponse{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldDiscRespRegs:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			reg, err := decodeRegister(v)
			if err != nil {
				return 0, err
			}
			resp.Registrations = append(resp.Registrations, reg)
			return n, nil
		case fieldDiscRespStatus:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			code, err := toCode(v)
			resp.Code = code
			return n, err
		case fieldDiscRespCookie, fieldDiscRespStatusText:
			_, n, err := consumeBytes(num, typ, b)
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeOK && len(resp.Registrations) > 0 {
		return nil, malformed("error response %s carries registrations", resp.Code)
	}
	return resp, nil
}

// walkFields 遍历消息体中的字段
//
// fn 返回消耗的字节数；返回 -1 表示未知字段，由 walkFields 跳过。
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed("tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		used, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if used < 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
			if used < 0 {
				return malformed("field %d: %v", num, protowire.ParseError(used))
			}
		}
		b = b[used:]
	}
	return nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, malformed("field %d: wire type %d, want varint", num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, malformed("field %d: %v", num, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, malformed("field %d: wire type %d, want bytes", num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, malformed("field %d: %v", num, protowire.ParseError(n))
	}
	return v, n, nil
}

func toTTL(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, malformed("ttl %d overflows uint32", v)
	}
	return uint32(v), nil
}

func toCode(v uint64) (ErrorCode, error) {
	if v > math.MaxUint32 || !ErrorCode(v).Valid() {
		return 0, malformed("unknown status %d", v)
	}
	return ErrorCode(v), nil
}
