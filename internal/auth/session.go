package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/models"
)

// Claims is the signed session. Passphrase is the unlock material for the
// user's sealed private key, so every authenticated request carries it.
type Claims struct {
	UserID     int64  `json:"uid"`
	Email      string `json:"email"`
	Passphrase string `json:"pph"`
	jwt.RegisteredClaims
}

type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSessions(secret, issuer string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a session for user that expires after the configured TTL.
func (s *Sessions) Issue(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:     user.ID,
		Email:      user.Email,
		Passphrase: user.Salt,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies signature, algorithm, issuer and expiry.
func (s *Sessions) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, apperr.E(apperr.KindAuthenticationFailed, "", err)
	}
	if claims.UserID <= 0 || claims.Passphrase == "" {
		return nil, apperr.E(apperr.KindAuthenticationFailed, "", errors.New("incomplete session claims"))
	}
	return claims, nil
}
