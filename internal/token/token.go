// Package token は署名付き・時限付きのアイデンティティトークンの
// 発行と検証を提供する。トークンは自己完結型であり、検証にストア参照を必要としない。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/hubgate/internal/model"
)

const defaultIssuer = "hubgate"

// 検証失敗の種別。呼び出し側はこの2つだけを区別すればよい。
var (
	// ErrInvalidToken は署名不一致・形式不正などの無効なトークンを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken は埋め込まれた有効期限を過ぎたトークンを表す。
	ErrExpiredToken = errors.New("expired token")
)

// Config はトークンコーデックの設定。
type Config struct {
	Secret string        // HS256署名鍵（必須）
	Expiry time.Duration // トークン有効期間
	Issuer string        // 省略時は"hubgate"
}

// Codec はHS256で署名されたJWTの発行と検証を行う。
// 署名鍵はプロセス起動時に1回読み込まれるイミュータブルな設定であり、
// トークン側が指定するアルゴリズムや鍵は一切信用しない。
type Codec struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewCodec はCodecを生成する。
func NewCodec(config Config) *Codec {
	issuer := config.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &Codec{
		secret: []byte(config.Secret),
		expiry: config.Expiry,
		issuer: issuer,
	}
}

// Mint はユーザーに対する署名付きトークンを発行する。
// クレームはユーザーID・発行時刻・絶対有効期限のみで構成する。
// 署名鍵が未設定の場合はSIGNING_UNAVAILABLEを返す。
func (c *Codec) Mint(user *model.User) (string, error) {
	if len(c.secret) == 0 {
		return "", model.NewSigningUnavailableError()
	}
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("user ID is required")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.expiry)),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、ユーザーIDを返す。
// 署名アルゴリズムはHS256に固定する（アルゴリズム混同攻撃の防止）。
// 有効期限切れはErrExpiredToken、それ以外の検証失敗はErrInvalidTokenを返す。
func (c *Codec) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
