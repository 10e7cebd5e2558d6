package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/cards/internal/apperr"
	"github.com/congo-pay/cards/internal/config"
)

const roleOperator = "operator"

var (
	ErrInvalidCredentials = apperr.New(apperr.ErrUnauthorized, "invalid credentials")
	ErrInvalidToken       = apperr.New(apperr.ErrUnauthorized, "invalid token")
)

// Claims are the JWT claims issued to operators.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token is an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Service authenticates the configured operator and issues HS256 tokens.
type Service struct {
	secret       []byte
	issuer       string
	ttl          time.Duration
	username     string
	passwordHash []byte
	now          func() time.Time
}

func NewService(cfg config.Config) *Service {
	return &Service{
		secret:       []byte(cfg.JWTSecret),
		issuer:       cfg.JWTIssuer,
		ttl:          cfg.JWTTTL,
		username:     cfg.AuthUsername,
		passwordHash: []byte(cfg.AuthPasswordHash),
		now:          time.Now,
	}
}

// Login checks the operator credentials and issues an access token.
func (s *Service) Login(username, password string) (Token, error) {
	if s.username == "" || len(s.passwordHash) == 0 {
		return Token{}, ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return Token{}, ErrInvalidCredentials
	}
	return s.Issue(username)
}

// Issue signs a token for subject.
func (s *Service) Issue(subject string) (Token, error) {
	now := s.now()
	claims := Claims{
		Role: roleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, TokenType: "Bearer", ExpiresIn: int64(s.ttl.Seconds())}, nil
}

// Verify parses token and returns its claims when the signature, issuer and
// validity window check out.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
