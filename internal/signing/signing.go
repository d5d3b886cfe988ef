// Package signing implements the HMAC scheme behind short-lived playback
// tokens. A token grants access to one video's manifest and segments until
// it expires.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Token is an issued playback credential.
type Token struct {
	Expires   int64  `json:"expires"`
	Signature string `json:"signature"`
}

// IssueToken signs access to one video for the given lifetime.
func (s *Signer) IssueToken(videoID string, ttl time.Duration) Token {
	expires := s.now().Add(ttl).Unix()
	return Token{Expires: expires, Signature: s.Sign(videoID, expires)}
}

// Sign returns the hex signature binding a videoId to an expiry instant.
// Because the expiry is part of the signed payload, a client cannot extend a
// token's lifetime by editing the query parameter.
func (s *Signer) Sign(videoID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", videoID, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and that the token has not expired.
// hmac.Equal compares in constant time, so a mismatch reveals nothing about
// how much of the signature was correct.
func (s *Signer) Validate(videoID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().Unix() > exp {
		return false
	}
	expected := s.Sign(videoID, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
