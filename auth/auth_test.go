package auth

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	//before
	fmt.Println("\nSTART UNIT TEST 'auth'")

	m.Run()

	//after
	fmt.Println("END UNIT TEST 'auth'")
}

func Test_JWTRoundtrip(t *testing.T) {
	asserts := assert.New(t)

	token, err := CreateJWTToken("uid-1", "alice")
	asserts.Nil(err)

	claims, err := ValidateToken(token)
	asserts.Nil(err)
	asserts.Equal("uid-1", claims.GetUID())
	asserts.Equal("alice", claims.GetUsername())
	asserts.Equal("Login", claims.GetCmd())
	asserts.False(claims.IsExpired())
}

func Test_ValidateGarbageToken(t *testing.T) {
	_, err := ValidateToken("not-a-token")
	assert.NotNil(t, err)
}

func Test_CredentialDigest(t *testing.T) {
	asserts := assert.New(t)

	d1 := ComputeCredentialDigest("hunter22")
	d2 := ComputeCredentialDigest("hunter22")
	asserts.Equal(d1, d2)
	asserts.Len(d1, 64)
	asserts.NotEqual(d1, ComputeCredentialDigest("hunter23"))

	stored, err := GeneratePassword(d1)
	asserts.Nil(err)
	asserts.True(ComparePassword(stored, d1))
	asserts.False(ComparePassword(stored, ComputeCredentialDigest("wrong")))
}
