// Package auth issues and validates the bearer tokens guarding the admin
// API. This is a single-operator service; authentication is an admin
// password traded for a short-lived HMAC-signed JWT.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for malformed, expired, or revoked tokens.
var ErrInvalidToken = errors.New("invalid token")

// ErrBadCredentials is returned for a wrong admin password.
var ErrBadCredentials = errors.New("bad credentials")

// Claims carried by admin tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager issues and validates admin tokens.
type JWTManager struct {
	signingKey []byte
	password   string
	tokenTTL   time.Duration

	mu      sync.RWMutex
	revoked map[string]time.Time
	stopCh  chan struct{}
}

// JWTConfig configures the manager.
type JWTConfig struct {
	// SigningKey is the HMAC secret. Empty generates a random key, which
	// invalidates outstanding tokens on restart.
	SigningKey string
	// Password is the admin password accepted by Login.
	Password string
	// TokenTTL bounds token lifetime.
	TokenTTL time.Duration
}

// NewJWTManager creates a manager and starts its revocation cleanup.
func NewJWTManager(config *JWTConfig) (*JWTManager, error) {
	if config.Password == "" {
		return nil, fmt.Errorf("admin password must be configured")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 12 * time.Hour
	}

	key := []byte(config.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}

	m := &JWTManager{
		signingKey: key,
		password:   config.Password,
		tokenTTL:   config.TokenTTL,
		revoked:    make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m, nil
}

// Login trades the admin password for a signed token.
func (j *JWTManager) Login(password string) (string, error) {
	if subtle.ConstantTimeCompare([]byte(password), []byte(j.password)) != 1 {
		return "", ErrBadCredentials
	}
	return j.generateToken()
}

// ValidateToken parses and verifies a token string.
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if j.isRevoked(claims.ID) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RevokeToken invalidates a token by its id for the rest of its lifetime.
func (j *JWTManager) RevokeToken(tokenID string) {
	j.mu.Lock()
	j.revoked[tokenID] = time.Now().Add(j.tokenTTL)
	j.mu.Unlock()
}

// Stop halts the cleanup loop.
func (j *JWTManager) Stop() {
	close(j.stopCh)
}

func (j *JWTManager) generateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (j *JWTManager) isRevoked(tokenID string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, ok := j.revoked[tokenID]
	return ok
}

func (j *JWTManager) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			j.mu.Lock()
			for id, expiry := range j.revoked {
				if now.After(expiry) {
					delete(j.revoked, id)
				}
			}
			j.mu.Unlock()
		}
	}
}

// GenerateRandomKey returns a base64 key suitable for SigningKey.
func GenerateRandomKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
