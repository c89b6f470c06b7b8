package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/iam"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type (
	Manager interface {
		CreateToken(userID, email string, ttl time.Duration) (string, error)
		// Principal verifies the signature and expiry of tokenString and
		// returns the identity it carries.
		Principal(tokenString string) (*iam.Principal, error)
	}
	manager struct {
		secret []byte
		now    func() time.Time
	}
)

func NewJwtManager(secretKey string) Manager {
	return &manager{
		secret: []byte(secretKey),
		now:    time.Now,
	}
}

type Claims struct {
	UserID    string `json:"user_id,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	jwt.RegisteredClaims
}

func (m *manager) CreateToken(userID, email string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID:    userID,
		UserEmail: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *manager) Principal(tokenString string) (*iam.Principal, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return &iam.Principal{UserID: userID, Email: claims.UserEmail}, nil
}
