package wire

import (
	"fmt"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// 字段编号，只能追加，不能复用
const (
	reqKind    protowire.Number = 1
	reqAddress protowire.Number = 2
	reqRecord  protowire.Number = 3
	reqProof   protowire.Number = 4
	reqSize    protowire.Number = 5

	respKind   protowire.Number = 1
	respResult protowire.Number = 2
	respReason protowire.Number = 3
	respRecord protowire.Number = 4
	respPeers  protowire.Number = 5
	respPrice  protowire.Number = 6

	recAddress   protowire.Number = 1
	recKind      protowire.Number = 2
	recPayload   protowire.Number = 3
	recOwner     protowire.Number = 4
	recSignature protowire.Number = 5

	proofPayee  protowire.Number = 1
	proofAmount protowire.Number = 2
	proofTxRef  protowire.Number = 3

	peerID    protowire.Number = 1
	peerAddrs protowire.Number = 2

	priceAmount   protowire.Number = 1
	pricePayee    protowire.Number = 2
	priceQuotedAt protowire.Number = 3
)

// ============================================================================
//                              编码
// ============================================================================

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendMessageField 嵌套消息即使为空也写出，用于区分“存在但为空”
func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// MarshalRequest 编码请求
func MarshalRequest(r *Request) []byte {
	var b []byte
	b = appendVarintField(b, reqKind, uint64(r.Kind))
	if !r.Address.IsEmpty() {
		b = appendBytesField(b, reqAddress, r.Address[:])
	}
	if r.Record != nil {
		b = appendMessageField(b, reqRecord, MarshalRecord(r.Record))
	}
	if r.Proof != nil {
		b = appendMessageField(b, reqProof, marshalProof(r.Proof))
	}
	return appendVarintField(b, reqSize, r.Size)
}

// MarshalResponse 编码响应
func MarshalResponse(r *Response) []byte {
	var b []byte
	b = appendVarintField(b, respKind, uint64(r.Kind))
	b = appendVarintField(b, respResult, uint64(r.Result))
	b = appendVarintField(b, respReason, uint64(r.Reason))
	if r.Record != nil {
		b = appendMessageField(b, respRecord, MarshalRecord(r.Record))
	}
	for _, p := range r.Peers {
		b = appendMessageField(b, respPeers, marshalPeer(p))
	}
	if r.Price != nil {
		b = appendMessageField(b, respPrice, marshalPrice(r.Price))
	}
	return b
}

// MarshalRecord 编码记录，记录存储也用它作为磁盘格式
func MarshalRecord(rec *types.Record) []byte {
	var b []byte
	b = appendBytesField(b, recAddress, rec.Address[:])
	b = appendVarintField(b, recKind, uint64(rec.Kind))
	b = appendBytesField(b, recPayload, rec.Payload)
	b = appendBytesField(b, recOwner, rec.Owner)
	return appendBytesField(b, recSignature, rec.Signature)
}

func marshalProof(p *types.PaymentProof) []byte {
	var b []byte
	if !p.Payee.IsEmpty() {
		b = appendBytesField(b, proofPayee, p.Payee[:])
	}
	b = appendVarintField(b, proofAmount, p.Amount)
	return appendBytesField(b, proofTxRef, p.TxRef)
}

func marshalPeer(p types.Peer) []byte {
	b := appendBytesField(nil, peerID, p.ID[:])
	for _, a := range p.Addrs {
		b = appendBytesField(b, peerAddrs, a.Bytes())
	}
	return b
}

func marshalPrice(p *types.Price) []byte {
	var b []byte
	b = appendVarintField(b, priceAmount, p.Amount)
	if !p.Payee.IsEmpty() {
		b = appendBytesField(b, pricePayee, p.Payee[:])
	}
	if !p.QuotedAt.IsZero() {
		b = appendVarintField(b, priceQuotedAt, uint64(p.QuotedAt.UnixNano()))
	}
	return b
}

// ============================================================================
//                              解码
// ============================================================================

// field 解码出的一个字段
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// walk 逐个字段回调，未知类型的字段被跳过
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) wantVarint() error {
	if f.typ != protowire.VarintType {
		return fmt.Errorf("%w: field %d is not varint", ErrMalformed, f.num)
	}
	return nil
}

func (f field) wantBytes() error {
	if f.typ != protowire.BytesType {
		return fmt.Errorf("%w: field %d is not bytes", ErrMalformed, f.num)
	}
	return nil
}

func (f field) small(limit uint64) (uint8, error) {
	if err := f.wantVarint(); err != nil {
		return 0, err
	}
	if f.varint > limit {
		return 0, fmt.Errorf("%w: field %d value %d out of range", ErrMalformed, f.num, f.varint)
	}
	return uint8(f.varint), nil
}

func (f field) address() (types.Address, error) {
	if err := f.wantBytes(); err != nil {
		return types.EmptyAddress, err
	}
	a, err := types.AddressFromBytes(f.bytes)
	if err != nil {
		return a, fmt.Errorf("%w: field %d: %d-byte address", ErrMalformed, f.num, len(f.bytes))
	}
	return a, nil
}

func (f field) peerID() (types.PeerID, error) {
	a, err := f.address()
	return types.PeerID(a), err
}

func (f field) copyBytes() ([]byte, error) {
	if err := f.wantBytes(); err != nil {
		return nil, err
	}
	return append([]byte(nil), f.bytes...), nil
}

// UnmarshalRequest 解码请求
func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case reqKind:
			var k uint8
			k, err = f.small(255)
			r.Kind = RequestKind(k)
		case reqAddress:
			r.Address, err = f.address()
		case reqRecord:
			if err = f.wantBytes(); err == nil {
				r.Record, err = UnmarshalRecord(f.bytes)
			}
		case reqProof:
			if err = f.wantBytes(); err == nil {
				r.Proof, err = unmarshalProof(f.bytes)
			}
		case reqSize:
			if err = f.wantVarint(); err == nil {
				r.Size = f.varint
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// UnmarshalResponse 解码响应
func UnmarshalResponse(b []byte) (*Response, error) {
	r := &Response{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case respKind:
			var k uint8
			k, err = f.small(255)
			r.Kind = RequestKind(k)
		case respResult:
			var v uint8
			v, err = f.small(uint64(ResultRejected))
			r.Result = Result(v)
		case respReason:
			var v uint8
			v, err = f.small(255)
			r.Reason = types.RejectReason(v)
		case respRecord:
			if err = f.wantBytes(); err == nil {
				r.Record, err = UnmarshalRecord(f.bytes)
			}
		case respPeers:
			if err = f.wantBytes(); err == nil {
				var p types.Peer
				if p, err = unmarshalPeer(f.bytes); err == nil {
					r.Peers = append(r.Peers, p)
				}
			}
		case respPrice:
			if err = f.wantBytes(); err == nil {
				r.Price, err = unmarshalPrice(f.bytes)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if r.Result == ResultRejected && !r.Reason.Known() {
		return nil, fmt.Errorf("%w: rejected without known reason (%d)", ErrMalformed, r.Reason)
	}
	return r, nil
}

// UnmarshalRecord 解码记录
//
// 只做结构解码，地址、签名等语义校验由记录存储负责。
func UnmarshalRecord(b []byte) (*types.Record, error) {
	rec := &types.Record{}
	sawAddress := false
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case recAddress:
			rec.Address, err = f.address()
			sawAddress = true
		case recKind:
			var k uint8
			k, err = f.small(255)
			rec.Kind = types.RecordKind(k)
		case recPayload:
			rec.Payload, err = f.copyBytes()
		case recOwner:
			rec.Owner, err = f.copyBytes()
		case recSignature:
			rec.Signature, err = f.copyBytes()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !sawAddress {
		return nil, fmt.Errorf("%w: record without address", ErrMalformed)
	}
	return rec, nil
}

func unmarshalProof(b []byte) (*types.PaymentProof, error) {
	p := &types.PaymentProof{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case proofPayee:
			p.Payee, err = f.peerID()
		case proofAmount:
			if err = f.wantVarint(); err == nil {
				p.Amount = f.varint
			}
		case proofTxRef:
			p.TxRef, err = f.copyBytes()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func unmarshalPeer(b []byte) (types.Peer, error) {
	var p types.Peer
	sawID := false
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case peerID:
			p.ID, err = f.peerID()
			sawID = true
		case peerAddrs:
			if err = f.wantBytes(); err != nil {
				return err
			}
			a, aerr := ma.NewMultiaddrBytes(f.bytes)
			if aerr != nil {
				return fmt.Errorf("%w: peer address: %v", ErrMalformed, aerr)
			}
			p.Addrs = append(p.Addrs, a)
		}
		return err
	})
	if err != nil {
		return p, err
	}
	if !sawID {
		return p, fmt.Errorf("%w: peer without id", ErrMalformed)
	}
	return p, nil
}

func unmarshalPrice(b []byte) (*types.Price, error) {
	p := &types.Price{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case priceAmount:
			if err = f.wantVarint(); err == nil {
				p.Amount = f.varint
			}
		case pricePayee:
			p.Payee, err = f.peerID()
		case priceQuotedAt:
			if err = f.wantVarint(); err == nil {
				p.QuotedAt = time.Unix(0, int64(f.varint))
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
