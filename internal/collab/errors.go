package collab

import "errors"

var (
	// ErrBadOwner 所有者不是 ed25519 公钥
	ErrBadOwner = errors.New("collab: owner is not an ed25519 public key")

	// ErrBadSignature 签名校验失败
	ErrBadSignature = errors.New("collab: bad signature")

	// ErrBadPayload 负载编码错误
	ErrBadPayload = errors.New("collab: malformed payload")

	// ErrMergeMismatch 合并的两条记录地址或类型不同
	ErrMergeMismatch = errors.New("collab: merging unrelated records")
)
