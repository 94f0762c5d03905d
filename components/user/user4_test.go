package user

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"temu/auth"
)

func TestMain(m *testing.M) {
	//before
	fmt.Println("\nSTART UNIT TEST 'user'")
	auth.SetSecret("unit-test-secret")

	m.Run()

	//after
	fmt.Println("END UNIT TEST 'user'")
}

// memUserRepo is an in-memory I_UserRepo for controller tests.
type memUserRepo struct {
	users []*DBUser
}

func (me *memUserRepo) CreateUser(user *CreateUser) (*DBUser, error) {
	for _, u := range me.users {
		if u.Username == user.Username {
			return nil, errors.New("username already exists")
		}
	}
	nu := &DBUser{
		Id:         primitive.NewObjectID(),
		UID:        user.UID,
		Name:       user.Name,
		Username:   user.Username,
		Credential: user.Credential,
		Email:      user.Email,
		Avatar:     user.Avatar,
	}
	me.users = append(me.users, nu)
	return nu, nil
}

func (me *memUserRepo) UpdateUser(obId primitive.ObjectID, user *DBUser) (*DBUser, error) {
	for i, u := range me.users {
		if u.Id == obId {
			me.users[i] = user
			return user, nil
		}
	}
	return nil, errors.New("no user with that Id exists")
}

func (me *memUserRepo) FindUserById(uid string) (*DBUser, error) {
	for _, u := range me.users {
		if u.UID == uid {
			return u, nil
		}
	}
	return nil, errors.New("no user with that UID exists")
}

func (me *memUserRepo) FindUserByUsername(username string) (*DBUser, error) {
	for _, u := range me.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, errors.New("user unavailable")
}

func (me *memUserRepo) FindUsers(query primitive.M, page int, limit int) ([]*DBUser, error) {
	return me.users, nil
}

func (me *memUserRepo) FindUsersByKeyName(keyName string, page int, limit int) ([]*DBUser, error) {
	return me.users, nil
}

func (me *memUserRepo) FindUsersByKeyUsername(keyUser string, page int, limit int) ([]*DBUser, error) {
	return me.users, nil
}

func (me *memUserRepo) DeleteUser(obId primitive.ObjectID) error {
	for i, u := range me.users {
		if u.Id == obId {
			me.users = append(me.users[:i], me.users[i+1:]...)
			return nil
		}
	}
	return errors.New("no user with that Id exists")
}

func Test_LoginRegistersUnknownUsername(t *testing.T) {
	ctr := NewUserController(&memUserRepo{})

	digest := auth.ComputeCredentialDigest("hunter22")
	res, rpcerr, code := ctr.LoginOrRegister(&Login{Username: "Alice", Digest: digest})

	require.Nil(t, rpcerr)
	assert.Equal(t, http.StatusCreated, code)
	assert.True(t, res.IsNew)
	assert.Equal(t, "alice", res.Username)
	assert.NotEmpty(t, res.UID)

	claims, err := auth.ValidateToken(res.JWT)
	require.Nil(t, err)
	assert.Equal(t, "alice", claims.GetUsername())
}

func Test_LoginVerifiesKnownUsername(t *testing.T) {
	ctr := NewUserController(&memUserRepo{})
	digest := auth.ComputeCredentialDigest("hunter22")

	first, rpcerr, _ := ctr.LoginOrRegister(&Login{Username: "alice", Digest: digest})
	require.Nil(t, rpcerr)

	second, rpcerr, code := ctr.LoginOrRegister(&Login{Username: "alice", Digest: digest})
	require.Nil(t, rpcerr)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.UID, second.UID)
}

func Test_LoginRejectsWrongDigest(t *testing.T) {
	ctr := NewUserController(&memUserRepo{})

	_, rpcerr, _ := ctr.LoginOrRegister(&Login{Username: "alice", Digest: auth.ComputeCredentialDigest("hunter22")})
	require.Nil(t, rpcerr)

	res, rpcerr, code := ctr.LoginOrRegister(&Login{Username: "alice", Digest: auth.ComputeCredentialDigest("wrong")})
	assert.Nil(t, res)
	require.NotNil(t, rpcerr)
	assert.Equal(t, http.StatusUnauthorized, rpcerr.Code)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, auth.ErrCredentialMismatch.Error(), rpcerr.Message)
}

func Test_LoginRejectsInvalidInput(t *testing.T) {
	ctr := NewUserController(&memUserRepo{})

	// raw secret instead of a digest
	res, rpcerr, _ := ctr.LoginOrRegister(&Login{Username: "alice", Digest: "hunter22"})
	assert.Nil(t, res)
	require.NotNil(t, rpcerr)
	assert.Equal(t, http.StatusForbidden, rpcerr.Code)

	res, rpcerr, _ = ctr.LoginOrRegister(&Login{Username: "-bad-", Digest: auth.ComputeCredentialDigest("x")})
	assert.Nil(t, res)
	require.NotNil(t, rpcerr)
}

func Test_UpdateProfile(t *testing.T) {
	ctr := NewUserController(&memUserRepo{})

	res, rpcerr, _ := ctr.LoginOrRegister(&Login{Username: "alice", Digest: auth.ComputeCredentialDigest("hunter22")})
	require.Nil(t, rpcerr)

	updated, rpcerr, code := ctr.UpdateProfile(&UpdateUserRequest{UID: res.UID, Name: "Alice W", Email: "alice@example.com"})
	require.Nil(t, rpcerr)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Alice W", updated.Name)

	_, rpcerr, _ = ctr.UpdateProfile(&UpdateUserRequest{UID: res.UID, Name: "Alice", Email: "not-an-email"})
	require.NotNil(t, rpcerr)
	assert.Equal(t, http.StatusForbidden, rpcerr.Code)
}

func Test_DeleteAccount(t *testing.T) {
	repo := &memUserRepo{}
	ctr := NewUserController(repo)

	res, rpcerr, _ := ctr.LoginOrRegister(&Login{Username: "alice", Digest: auth.ComputeCredentialDigest("hunter22")})
	require.Nil(t, rpcerr)

	status, rpcerr, _ := ctr.DeleteAccount(res.UID)
	require.Nil(t, rpcerr)
	assert.Equal(t, "deleted", status.Status)
	assert.Empty(t, repo.users)
}

func Test_SearchSkipsSelf(t *testing.T) {
	ctr := NewUserController(&memUserRepo{})

	alice, rpcerr, _ := ctr.LoginOrRegister(&Login{Username: "alice", Digest: auth.ComputeCredentialDigest("a")})
	require.Nil(t, rpcerr)
	_, rpcerr, _ = ctr.LoginOrRegister(&Login{Username: "bob", Digest: auth.ComputeCredentialDigest("b")})
	require.Nil(t, rpcerr)

	res, rpcerr, _ := ctr.SearchUsers("@bo", "1", "10", alice.UID)
	require.Nil(t, rpcerr)
	require.Len(t, res, 1)
	assert.Equal(t, "bob", res[0].Username)
}
