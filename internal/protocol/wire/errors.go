package wire

import "errors"

var (
	// ErrMalformed 消息无法解析或字段非法
	ErrMalformed = errors.New("wire: malformed message")

	// ErrTooLarge 长度前缀超过 MaxMessageSize
	ErrTooLarge = errors.New("wire: message too large")

	// ErrUnknownKind 未知请求类型
	ErrUnknownKind = errors.New("wire: unknown request kind")
)
