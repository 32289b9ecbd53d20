package record

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	priv, err := GenerateKey()
	require.NoError(t, err)
	return priv
}

// TestSealOpen 测试签名与验证
func TestSealOpen(t *testing.T) {
	priv := testKey(t)
	ts := time.Unix(1700000000, 123)

	rec := &PeerRecord{
		Addrs:     []string{"127.0.0.1:4001", "[::1]:4001"},
		Seq:       7,
		Timestamp: ts,
	}
	signed, err := Seal(priv, rec)
	require.NoError(t, err)
	assert.False(t, signed.IsEmpty())

	id, err := PeerIDFromPublicKey(priv.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, id, rec.PeerID)

	opened, err := Open(signed)
	require.NoError(t, err)
	assert.Equal(t, id, opened.PeerID)
	assert.Equal(t, rec.Addrs, opened.Addrs)
	assert.Equal(t, uint64(7), opened.Seq)
	assert.True(t, ts.Equal(opened.Timestamp))

	t.Log("✅ 签名记录测试通过")
}

// TestSeal_PeerIDMismatch 测试记录 ID 与密钥不一致
func TestSeal_PeerIDMismatch(t *testing.T) {
	_, err := Seal(testKey(t), &PeerRecord{PeerID: "someone-else"})
	assert.ErrorIs(t, err, ErrPeerIDMismatch)

	_, err = Seal(ed25519.PrivateKey{1, 2, 3}, &PeerRecord{})
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

// TestOpen_Tampered 测试篡改后验签失败
func TestOpen_Tampered(t *testing.T) {
	signed, err := Seal(testKey(t), &PeerRecord{Addrs: []string{"127.0.0.1:4001"}, Timestamp: time.Now()})
	require.NoError(t, err)

	tampered := signed.Clone()
	tampered[len(tampered)-70] ^= 0xff
	_, err = Open(tampered)
	assert.Error(t, err)

	sigFlip := signed.Clone()
	sigFlip[len(sigFlip)-1] ^= 0x01
	_, err = Open(sigFlip)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	for i := 0; i < len(signed); i += 7 {
		_, err = Open(signed[:i])
		assert.Error(t, err, "prefix %d", i)
	}

	wrongType := signed.Clone()
	wrongType[0] = 9
	_, err = Open(wrongType)
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

// TestValidator 测试 Point 使用的校验函数
func TestValidator(t *testing.T) {
	priv := testKey(t)
	mgr, err := NewManager(priv)
	require.NoError(t, err)

	signed, err := mgr.Sign([]string{"127.0.0.1:4001"})
	require.NoError(t, err)

	validate := Validator()
	assert.NoError(t, validate(mgr.ID(), signed))
	assert.ErrorIs(t, validate("other-peer", signed), ErrPeerIDMismatch)
	assert.Error(t, validate(mgr.ID(), types.SignedPeerRecord("garbage")))
}

// TestManager_Seq 测试序列号递增
func TestManager_Seq(t *testing.T) {
	mgr, err := NewManager(testKey(t))
	require.NoError(t, err)

	first, err := mgr.Sign(nil)
	require.NoError(t, err)
	second, err := mgr.Sign(nil)
	require.NoError(t, err)

	r1, err := Open(first)
	require.NoError(t, err)
	r2, err := Open(second)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, uint64(2), r2.Seq)
	assert.Empty(t, r1.Addrs)
}

// TestKeyFile 测试密钥文件加载与生成
func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	_, err := LoadOrGenerateKey(path, false)
	assert.Error(t, err)

	generated, err := LoadOrGenerateKey(path, true)
	require.NoError(t, err)

	loaded, err := LoadOrGenerateKey(path, false)
	require.NoError(t, err)
	assert.True(t, generated.Equal(loaded))

	require.NoError(t, os.WriteFile(path, []byte("not-base58-0OIl"), 0o600))
	_, err = LoadOrGenerateKey(path, true)
	assert.Error(t, err)

	ephemeral, err := LoadOrGenerateKey("", false)
	require.NoError(t, err)
	assert.Len(t, ephemeral, ed25519.PrivateKeySize)

	decoded, err := DecodeKey(EncodeKey(generated))
	require.NoError(t, err)
	assert.True(t, generated.Equal(decoded))
}
