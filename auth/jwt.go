package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var hmacSecret = []byte("WjdwZUh2dWJGdFB1UWRybg==")

// SetSecret overrides the signing secret, called once from main with the
// configured value.
func SetSecret(secret string) {
	if secret != "" {
		hmacSecret = []byte(secret)
	}
}

type ExpireTime = time.Duration

const (
	AWeek  ExpireTime = 7 * 24 * time.Hour
	ADay   ExpireTime = 24 * time.Hour
	AnHour ExpireTime = time.Hour
)

// member must start with capital and contain ID
type Claims struct {
	ID  string `json:"id"`
	Usr string `json:"usr"`
	Cmd string `json:"cmd"`
	jwt.StandardClaims
}

func (c *Claims) GetUID() string {
	return c.ID
}

func (c *Claims) GetUsername() string {
	return c.Usr
}

func (c *Claims) GetCmd() string {
	return c.Cmd
}

func (c *Claims) IsExpired() bool {
	return time.Now().Unix() > c.ExpiresAt
}

// CreateJWTToken generates a JWT signed token for the given user id and username
func CreateJWTToken(id, username string) (string, error) {
	return CreateJWTWithExpire(id, username, "Login", ADay)
}

func CreateJWTWithExpire(id string, username string, cmd string, expire ExpireTime) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		ID:  id,
		Usr: username,
		Cmd: cmd,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(expire).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})
	tokenString, err := token.SignedString(hmacSecret)

	return tokenString, err
}

func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Don't forget to validate the alg is what you expect:
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return hmacSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
