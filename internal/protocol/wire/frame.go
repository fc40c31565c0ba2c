package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// WriteFrame 写出 varint 长度前缀和消息体
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body))
	}
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(body)))+len(body))
	buf = append(buf, varint.ToUvarint(uint64(len(body)))...)
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame 读取一条带长度前缀的消息体
//
// 长度超过 MaxMessageSize 时在分配内存之前返回 ErrTooLarge。只有长度前缀本身
// 无法解码时返回 ErrMalformed；读取错误（超时、连接重置、EOF）原样返回。
func ReadFrame(r io.Reader) ([]byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	n, err := varint.ReadUvarint(br)
	if err != nil {
		if errors.Is(err, varint.ErrOverflow) || errors.Is(err, varint.ErrNotMinimal) {
			return nil, fmt.Errorf("%w: length prefix: %w", ErrMalformed, err)
		}
		return nil, err
	}
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// byteReader 逐字节读取，避免预读吞掉后续帧
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}

// WriteRequest 编码并写出请求
func WriteRequest(w io.Writer, req *Request) error {
	return WriteFrame(w, MarshalRequest(req))
}

// ReadRequest 读取并解码请求
func ReadRequest(r io.Reader) (*Request, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalRequest(body)
}

// WriteResponse 编码并写出响应
func WriteResponse(w io.Writer, resp *Response) error {
	return WriteFrame(w, MarshalResponse(resp))
}

// ReadResponse 读取并解码响应
func ReadResponse(r io.Reader) (*Response, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalResponse(body)
}

// WriteHello 写出连接建立时交换的本节点信息
func WriteHello(w io.Writer, local types.Peer) error {
	return WriteFrame(w, marshalPeer(local))
}

// ReadHello 读取对端的 hello
func ReadHello(r io.Reader) (types.Peer, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return types.Peer{}, err
	}
	return unmarshalPeer(body)
}
