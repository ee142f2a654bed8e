// Package secure はデスクトップクライアントと共有する事前共有鍵による
// ペイロードの暗号化・復号を提供する。
//
// 新規の暗号化は常にAES-GCM（nonce付き、"."区切り）で行う。
// 復号は旧世代クライアントが書き込んだ区切りなし形式（鍵導出IVのAES-CTR）
// へのフォールバックを持つ。これは既存クライアントとの互換性維持のための
// レガシーシムであり、一般化してはならない。
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// formatDelimiter はnonceと暗号文を区切る文字。
// この区切りを含まない暗号文はレガシー形式として扱う。
const formatDelimiter = "."

// PayloadCipher は事前共有鍵によるペイロードの暗号化・復号を行う。
type PayloadCipher struct {
	aead     cipher.AEAD
	legacyIV []byte
	block    cipher.Block
}

// NewPayloadCipher は事前共有鍵からPayloadCipherを生成する。
// 鍵はSHA-256で32バイトに正規化する。
func NewPayloadCipher(key string) (*PayloadCipher, error) {
	if key == "" {
		return nil, fmt.Errorf("payload key is required")
	}

	derived := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// レガシー形式はIVを持たず、鍵から決定的に導出する
	ivSum := sha256.Sum256([]byte(key + ":iv"))

	return &PayloadCipher{
		aead:     aead,
		legacyIV: ivSum[:aes.BlockSize],
		block:    block,
	}, nil
}

// Encrypt は平文をAES-GCMで暗号化する。
// 出力は base64url(nonce) + "." + base64url(暗号文) の形式。
func (c *PayloadCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nil, nonce, []byte(plaintext), nil)

	return base64.RawURLEncoding.EncodeToString(nonce) +
		formatDelimiter +
		base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt は暗号文を復号する。
// 区切り文字を含む場合はAES-GCM、含まない場合はレガシー形式（AES-CTR、
// 鍵導出IV）として復号する。レガシーパスは旧クライアントが書き込んだ
// 値の読み取り専用であり、新規の書き込みには使用しない。
func (c *PayloadCipher) Decrypt(ciphertext string) (string, error) {
	if strings.Contains(ciphertext, formatDelimiter) {
		return c.decryptGCM(ciphertext)
	}
	return c.decryptLegacy(ciphertext)
}

// decryptGCM はAES-GCM形式の暗号文を復号する。
func (c *PayloadCipher) decryptGCM(ciphertext string) (string, error) {
	parts := strings.SplitN(ciphertext, formatDelimiter, 2)

	nonce, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode nonce: %w", err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("invalid nonce size: %d", len(nonce))
	}

	encrypted, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	plaintext, err := c.aead.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return string(plaintext), nil
}

// decryptLegacy は区切りなしのレガシー形式を復号する。
// 認証タグを持たないため復号結果の完全性は保証されない。
func (c *PayloadCipher) decryptLegacy(ciphertext string) (string, error) {
	encrypted, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode legacy ciphertext: %w", err)
	}

	plaintext := make([]byte, len(encrypted))
	stream := cipher.NewCTR(c.block, c.legacyIV)
	stream.XORKeyStream(plaintext, encrypted)
	return string(plaintext), nil
}

// EncryptLegacy はレガシー形式で暗号化する。
// 旧クライアント互換のテストとツール専用。新規コードでは使用しないこと。
func (c *PayloadCipher) EncryptLegacy(plaintext string) string {
	encrypted := make([]byte, len(plaintext))
	stream := cipher.NewCTR(c.block, c.legacyIV)
	stream.XORKeyStream(encrypted, []byte(plaintext))
	return base64.RawURLEncoding.EncodeToString(encrypted)
}
