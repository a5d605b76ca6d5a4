package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered download tokens.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrTokenExpired is returned once a token is past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedURLSigner issues short lived tokens granting one actor access to one document.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token bound to documentID and actorID.
func (s *SignedURLSigner) Generate(documentID, actorID string) (string, time.Time, error) {
	if documentID == "" || actorID == "" {
		return "", time.Time{}, fmt.Errorf("documentID and actorID required")
	}
	if strings.Contains(documentID, ".") || strings.Contains(actorID, ".") {
		return "", time.Time{}, fmt.Errorf("identifiers must not contain '.'")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{documentID, actorID, ts, s.sign(documentID, actorID, ts)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the document and actor it was issued for.
func (s *SignedURLSigner) Parse(token string) (documentID, actorID string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", ErrInvalidToken
	}
	documentID, actorID = parts[0], parts[1]
	ts, signature := parts[2], parts[3]

	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	expected := s.sign(documentID, actorID, ts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", "", ErrInvalidToken
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", "", ErrTokenExpired
	}
	return documentID, actorID, nil
}

func (s *SignedURLSigner) sign(documentID, actorID, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(documentID + "|" + actorID + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
