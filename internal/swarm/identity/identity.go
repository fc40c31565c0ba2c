// Package identity 管理节点的 ed25519 密钥
//
// PeerID 是公钥的 SHA-256。私钥以 PEM 形式保存，写入使用
// 临时文件 + rename，文件权限 0600。
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	sha256 "github.com/minio/sha256-simd"

	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("identity")

const pemTypePrivate = "ED25519 PRIVATE KEY"

var (
	// ErrInvalidPEM 文件不是合法的 PEM
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrInvalidKey 密钥长度或类型不对
	ErrInvalidKey = errors.New("identity: invalid key")
)

// Identity 节点身份
type Identity struct {
	priv ed25519.PrivateKey
	id   types.PeerID
}

// Generate 生成新身份
func Generate() (*Identity, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return FromPrivateKey(priv)
}

// FromPrivateKey 由已有私钥构造身份
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{priv: priv, id: PeerIDFromPublicKey(pub)}, nil
}

// PeerIDFromPublicKey 公钥的 SHA-256
func PeerIDFromPublicKey(pub ed25519.PublicKey) types.PeerID {
	return types.PeerID(sha256.Sum256(pub))
}

// PeerID 节点 ID
func (i *Identity) PeerID() types.PeerID {
	return i.id
}

// PublicKey 公钥
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.priv.Public().(ed25519.PublicKey)
}

// PrivateKey 私钥
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.priv
}

// Sign 签名
func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.priv, msg)
}

// ============================================================================
//                              持久化
// ============================================================================

// Save 以 PEM 格式写入 path
func (i *Identity) Save(path string) error {
	data := pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: i.priv})
	return atomicWriteFile(path, data, 0o600)
}

// Load 从 PEM 文件读取身份；文件不存在时返回的错误满足 os.IsNotExist
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEM
	}
	if block.Type != pemTypePrivate {
		return nil, fmt.Errorf("%w: pem type %q", ErrInvalidKey, block.Type)
	}
	return FromPrivateKey(ed25519.PrivateKey(block.Bytes))
}

// LoadOrGenerate 读取 path 处的身份，不存在时生成并保存
//
// path 为空时只生成、不保存。
func LoadOrGenerate(path string) (*Identity, error) {
	if path == "" {
		return Generate()
	}
	id, err := Load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load identity %s: %w", path, err)
	}

	id, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := id.Save(path); err != nil {
		return nil, fmt.Errorf("save identity %s: %w", path, err)
	}
	log.Info("generated node identity", "peer", id.PeerID().ShortString(), "path", path)
	return id, nil
}

// atomicWriteFile 同目录临时文件写入后 rename
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	ok = true
	return nil
}
