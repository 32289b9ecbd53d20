package record

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// GenerateKey 生成新的 Ed25519 私钥
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("record: generate key: %w", err)
	}
	return priv, nil
}

// EncodeKey 将私钥编码为 base58 种子
func EncodeKey(priv ed25519.PrivateKey) string {
	return base58.Encode(priv.Seed())
}

// DecodeKey 从 base58 种子还原私钥
func DecodeKey(s string) (ed25519.PrivateKey, error) {
	seed, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("record: decode key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed size %d", ErrUnsupportedKey, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadOrGenerateKey 从文件加载私钥
//
// path 为空时生成临时密钥；文件不存在且 autoGenerate 为真时生成并写入。
func LoadOrGenerateKey(path string, autoGenerate bool) (ed25519.PrivateKey, error) {
	if path == "" {
		return GenerateKey()
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return DecodeKey(string(data))
	}
	if !errors.Is(err, fs.ErrNotExist) || !autoGenerate {
		return nil, fmt.Errorf("record: read key file: %w", err)
	}

	priv, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(EncodeKey(priv)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("record: write key file: %w", err)
	}
	return priv, nil
}
