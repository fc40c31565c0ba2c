package collab

import (
	"crypto/ed25519"
	"fmt"

	"github.com/dep2p/go-recordnet/pkg/interfaces"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// Ed25519Verifier 校验可变记录的所有者签名
//
// Register 逐条校验条目签名，Scratchpad 校验整条记录的签名。
// 内容块没有所有者，总是通过。
type Ed25519Verifier struct{}

var _ interfaces.SignatureVerifier = Ed25519Verifier{}

// Verify 实现 interfaces.SignatureVerifier
func (Ed25519Verifier) Verify(rec *types.Record) error {
	if rec.Kind == types.KindChunk {
		return nil
	}
	if len(rec.Owner) != ed25519.PublicKeySize {
		return ErrBadOwner
	}
	owner := ed25519.PublicKey(rec.Owner)

	switch rec.Kind {
	case types.KindRegister:
		entries, err := DecodeRegister(rec.Payload)
		if err != nil {
			return err
		}
		for i, e := range entries {
			if !ed25519.Verify(owner, entrySigningBytes(rec.Address, e.Data), e.Signature) {
				return fmt.Errorf("%w: register entry %d", ErrBadSignature, i)
			}
		}
		return nil
	case types.KindScratchpad:
		if _, _, err := ScratchpadCounter(rec.Payload); err != nil {
			return err
		}
		if !ed25519.Verify(owner, rec.SigningBytes(), rec.Signature) {
			return ErrBadSignature
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %s", ErrBadPayload, rec.Kind)
	}
}
