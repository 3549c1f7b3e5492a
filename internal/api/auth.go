package api

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidToken токен не прошёл проверку
	ErrInvalidToken = errors.New("api: invalid token")
	// ErrInvalidCredentials неизвестный оператор или неверный пароль
	ErrInvalidCredentials = errors.New("api: invalid credentials")
)

// DefaultTokenTTL срок действия токена, выданного при входе
const DefaultTokenTTL = 24 * time.Hour

// Claims утверждения токена оператора отладчика
type Claims struct {
	Operator string `json:"operator"`
	ReadOnly bool   `json:"read_only,omitempty"`
	jwt.RegisteredClaims
}

type account struct {
	passwordHash string
	readOnly     bool
}

// Authenticator выпускает и проверяет HS256 токены операторов
type Authenticator struct {
	secret    []byte
	issuer    string
	tokenTTL  time.Duration
	operators map[string]account
}

// NewAuthenticator создаёт проверку токенов по секрету в base64 (не короче 32 байт)
func NewAuthenticator(secret string) (*Authenticator, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}
	if len(decoded) < 32 {
		return nil, errors.New("jwt secret: ключ должен быть не короче 32 байт")
	}
	return &Authenticator{
		secret:    decoded,
		issuer:    "rewindd",
		tokenTTL:  DefaultTokenTTL,
		operators: make(map[string]account),
	}, nil
}

// AddOperator регистрирует учётную запись для входа по паролю, hash в формате bcrypt
func (a *Authenticator) AddOperator(name, passwordHash string, readOnly bool) {
	a.operators[name] = account{passwordHash: passwordHash, readOnly: readOnly}
}

// Login проверяет пароль оператора и выпускает токен
func (a *Authenticator) Login(name, password string) (string, *Claims, error) {
	acc, ok := a.operators[name]
	if !ok || !CheckPassword(acc.passwordHash, password) {
		return "", nil, ErrInvalidCredentials
	}
	token, err := a.Issue(name, acc.readOnly, a.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	claims, err := a.Validate(token)
	return token, claims, err
}

// HashPassword возвращает bcrypt хеш пароля с DefaultCost
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword сравнивает bcrypt хеш с паролем
func CheckPassword(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateSecureSecret генерирует новый секрет в base64
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Issue выпускает токен оператора
func (a *Authenticator) Issue(operator string, readOnly bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Operator: operator,
		ReadOnly: readOnly,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			Subject:   operator,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate проверяет подпись и срок действия токена
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
