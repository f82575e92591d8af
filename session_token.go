package main

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"exam-integrity-monitor/session"

	"github.com/golang-jwt/jwt/v4"
)

const DefaultTokenValidity = 4 * time.Hour

var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionClaims binds a websocket connection to the session it was issued for.
type SessionClaims struct {
	StudentID string `json:"student_id"`
	ExamID    string `json:"exam_id"`
	jwt.RegisteredClaims
}

type TokenIssuer interface {
	IssueSessionToken(sessionId string, sess session.Context) (string, error)
	VerifySessionToken(token, sessionId string) (*SessionClaims, error)
}

type RSATokenIssuer struct {
	privateKey *rsa.PrivateKey
	issuer     string
	validity   time.Duration
}

func NewRSATokenIssuer(privateKeyPath string, issuer string, validity time.Duration) (*RSATokenIssuer, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, err
	}

	return NewRSATokenIssuerFromKey(privateKey, issuer, validity), nil
}

func NewRSATokenIssuerFromKey(privateKey *rsa.PrivateKey, issuer string, validity time.Duration) *RSATokenIssuer {
	if validity <= 0 {
		validity = DefaultTokenValidity
	}
	return &RSATokenIssuer{privateKey: privateKey, issuer: issuer, validity: validity}
}

func (ti *RSATokenIssuer) IssueSessionToken(sessionId string, sess session.Context) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		StudentID: sess.StudentID,
		ExamID:    sess.ExamID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   sessionId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.validity)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(ti.privateKey)
}

// VerifySessionToken checks signature, expiry, issuer and that the token
// was issued for sessionId.
func (ti *RSATokenIssuer) VerifySessionToken(token, sessionId string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return &ti.privateKey.PublicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSessionToken
	}
	if !claims.VerifyIssuer(ti.issuer, true) {
		return nil, fmt.Errorf("%w: wrong issuer", ErrInvalidSessionToken)
	}
	if claims.Subject != sessionId {
		return nil, fmt.Errorf("%w: issued for another session", ErrInvalidSessionToken)
	}
	return claims, nil
}
