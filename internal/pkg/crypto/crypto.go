package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrIntegrity    = errors.New("message integrity check failed")
	ErrEmptyKeySeed = errors.New("encryption key seed is empty")
)

const keyInfo = "kanchana message encryption v1"

// Sealed 加密后的三段数据（base64）
type Sealed struct {
	CipherText string
	IV         string
	AuthTag    string
}

// Cipher 基于 XChaCha20-Poly1305 的消息加解密
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher 从种子派生密钥
func NewCipher(seed string) (*Cipher, error) {
	if seed == "" {
		return nil, ErrEmptyKeySeed
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(seed), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// OwnerAAD 把密文绑定到归属身份
func OwnerAAD(ownerKey string) []byte {
	return []byte("kanchana:" + ownerKey)
}

func (c *Cipher) Encrypt(plaintext string, aad []byte) (*Sealed, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := c.aead.Seal(nil, nonce, []byte(plaintext), aad)
	tagStart := len(out) - c.aead.Overhead()

	return &Sealed{
		CipherText: base64.StdEncoding.EncodeToString(out[:tagStart]),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(out[tagStart:]),
	}, nil
}

// Decrypt 任何解码或校验失败都返回 ErrIntegrity
func (c *Cipher) Decrypt(sealed Sealed, aad []byte) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(sealed.CipherText)
	if err != nil {
		return "", fmt.Errorf("%w: cipher text: %v", ErrIntegrity, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.IV)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: bad iv", ErrIntegrity)
	}
	tag, err := base64.StdEncoding.DecodeString(sealed.AuthTag)
	if err != nil || len(tag) != c.aead.Overhead() {
		return "", fmt.Errorf("%w: bad auth tag", ErrIntegrity)
	}

	combined := make([]byte, 0, len(ct)+len(tag))
	combined = append(combined, ct...)
	combined = append(combined, tag...)

	plain, err := c.aead.Open(nil, nonce, combined, aad)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plain), nil
}

// ContentHash 明文的 sha256
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashValue 对任意标识做 sha256，空值返回空串
func HashValue(value string) string {
	if value == "" {
		return ""
	}
	return ContentHash(value)
}
