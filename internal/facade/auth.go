package facade

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCredentials = errors.New("facade: invalid credentials")
	ErrBadToken       = errors.New("facade: invalid token")
	ErrAuthDisabled   = errors.New("facade: management auth not configured")
)

type Claims struct {
	Username string `json:"uname"`
	jwt.RegisteredClaims
}

// Auth guards the mutating management operations with an admin credential
// and short-lived JWTs.
type Auth struct {
	Username     string
	PasswordHash string // bcrypt
	Secret       []byte
	TTL          time.Duration
}

// Login checks the admin credential and issues a token.
func (a *Auth) Login(username, password string) (string, error) {
	if a.PasswordHash == "" || len(a.Secret) == 0 {
		return "", ErrAuthDisabled
	}
	if username != a.Username {
		return "", ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return "", ErrBadCredentials
	}
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "vaultguard",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// Check validates a previously issued token.
func (a *Auth) Check(tokenStr string) error {
	if len(a.Secret) == 0 {
		return ErrAuthDisabled
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.Secret, nil
	})
	if err != nil || !token.Valid {
		return ErrBadToken
	}
	return nil
}

// HashPassword renders a credential for the config file. Exposed for the
// CLI's hash subcommand.
func HashPassword(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(out), err
}
