package user

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"temu/auth"
	"temu/jsonrpc2"
	"temu/utils"
)

type UserController struct {
	userService I_UserRepo
}

func NewUserController(userService I_UserRepo) UserController {
	return UserController{userService}
}

// LoginOrRegister is the whole account flow: an unknown username creates
// the account with the digest bcrypt-hashed at rest, a known username must
// present a digest matching the stored hash. The raw secret never reaches
// the server, only its sha-256 digest does.
func (me *UserController) LoginOrRegister(login *Login) (*ResponseUser, *jsonrpc2.RPCError, int) {
	Logger.V(2).Info(fmt.Sprintf("login attempt from %s", login.Username))

	errres := make([]*jsonrpc2.InputFieldError, 0, 2)

	login.Username = strings.ToLower(login.Username)
	_, err := utils.IsValidUsername(login.Username)
	if err != nil {
		errres = append(errres, &jsonrpc2.InputFieldError{Error: err.Error(), Field: "username"})
	}

	_, err = utils.IsValidDigest(login.Digest)
	if err != nil {
		errres = append(errres, &jsonrpc2.InputFieldError{Error: err.Error(), Field: "digest"})
	}

	if len(errres) > 0 {
		return nil, &jsonrpc2.RPCError{
			Code:    http.StatusForbidden,
			Message: "forbidden, invalid input",
			Params:  errres,
		}, http.StatusOK
	}

	exist, _ := me.userService.FindUserByUsername(login.Username)
	if exist == nil {
		return me.register(login)
	}

	if !auth.ComparePassword(exist.Credential, login.Digest) {
		errres = append(errres, &jsonrpc2.InputFieldError{Error: auth.ErrCredentialMismatch.Error(), Field: "digest"})
		return nil, &jsonrpc2.RPCError{
			Code:    http.StatusUnauthorized,
			Message: auth.ErrCredentialMismatch.Error(),
			Params:  errres,
		}, http.StatusUnauthorized
	}

	token, err := auth.CreateJWTToken(exist.UID, exist.Username)
	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusInternalServerError, Message: err.Error()}, http.StatusOK
	}

	var resUser ResponseUser
	utils.CopyStruct(exist, &resUser)
	resUser.JWT = token

	Logger.V(2).Info("logged in")
	return &resUser, nil, http.StatusOK
}

func (me *UserController) register(login *Login) (*ResponseUser, *jsonrpc2.RPCError, int) {
	credential, err := auth.GeneratePassword(login.Digest)
	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusInternalServerError, Message: err.Error()}, http.StatusOK
	}

	nu := &CreateUser{
		UID:        uuid.New().String(),
		Name:       login.Username,
		Username:   login.Username,
		Credential: credential,
	}

	newUser, err := me.userService.CreateUser(nu)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, &jsonrpc2.RPCError{Code: http.StatusConflict, Message: err.Error()}, http.StatusOK
		}
		return nil, &jsonrpc2.RPCError{Code: http.StatusBadGateway, Message: err.Error()}, http.StatusOK
	}

	token, err := auth.CreateJWTToken(newUser.UID, newUser.Username)
	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusInternalServerError, Message: err.Error()}, http.StatusOK
	}

	var resUser ResponseUser
	utils.CopyStruct(newUser, &resUser)
	resUser.JWT = token
	resUser.IsNew = true

	Logger.V(2).Info("registered", "username", newUser.Username)
	return &resUser, nil, http.StatusCreated
}

func (me *UserController) UpdateProfile(req *UpdateUserRequest) (*ResponseUser, *jsonrpc2.RPCError, int) {
	Logger.V(2).Info(fmt.Sprintf("update profile %s", req.UID))

	errres := make([]*jsonrpc2.InputFieldError, 0, 2)

	_, err := utils.IsValidName(req.Name)
	if err != nil {
		errres = append(errres, &jsonrpc2.InputFieldError{Error: err.Error(), Field: "name"})
	}

	req.Email = strings.ToLower(req.Email)
	if req.Email != "" && !utils.IsValidEmail(req.Email) {
		errres = append(errres, &jsonrpc2.InputFieldError{Error: "email invalid", Field: "email"})
	}

	if len(errres) > 0 {
		return nil, &jsonrpc2.RPCError{
			Code:    http.StatusForbidden,
			Message: "forbidden, invalid input",
			Params:  errres,
		}, http.StatusOK
	}

	user, err := me.userService.FindUserById(req.UID)
	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusNotFound, Message: err.Error()}, http.StatusOK
	}

	user.Name = req.Name
	user.Email = req.Email
	if req.Avatar != "" {
		user.Avatar = req.Avatar
	}

	user, err = me.userService.UpdateUser(user.Id, user)
	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusInternalServerError, Message: err.Error()}, http.StatusOK
	}

	var resUser ResponseUser
	utils.CopyStruct(user, &resUser)

	Logger.V(2).Info("profile updated")
	return &resUser, nil, http.StatusOK
}

func (me *UserController) DeleteAccount(uid string) (*ResponseStatus, *jsonrpc2.RPCError, int) {
	Logger.V(2).Info(fmt.Sprintf("delete account %s", uid))

	ok := utils.IsValidUid(uid)
	if !ok {
		return nil, &jsonrpc2.RPCError{Code: http.StatusForbidden, Message: "uid invalid"}, http.StatusOK
	}

	user, err := me.userService.FindUserById(uid)
	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusNotFound, Message: err.Error()}, http.StatusOK
	}

	if err := me.userService.DeleteUser(user.Id); err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusBadGateway, Message: err.Error()}, http.StatusOK
	}

	return &ResponseStatus{UID: uid, Status: "deleted"}, nil, http.StatusOK
}

func (me *UserController) ValidateToken(jwt string) (*auth.Claims, error) {
	if len(jwt) >= 1 {
		claim, err := auth.ValidateToken(jwt)
		return claim, err
	} else {
		return nil, errors.New("jwt can't empty")
	}
}

func (me *UserController) FindUserById(userUID string) (*ResponseUser, *jsonrpc2.RPCError, int) {
	Logger.V(2).Info(fmt.Sprintf("find a user by uid %s", userUID))

	ok := utils.IsValidUid(userUID)
	if !ok {
		return nil, &jsonrpc2.RPCError{Code: http.StatusForbidden, Message: "uid invalid"}, http.StatusOK
	}

	user, err := me.userService.FindUserById(userUID)

	if err != nil {
		if strings.Contains(err.Error(), "exists") {
			return nil, &jsonrpc2.RPCError{Code: http.StatusNotFound, Message: err.Error()}, http.StatusOK
		}
		return nil, &jsonrpc2.RPCError{Code: http.StatusBadGateway, Message: err.Error()}, http.StatusOK
	}

	var resUser ResponseUser
	utils.CopyStruct(user, &resUser)

	return &resUser, nil, http.StatusOK
}

func (me *UserController) SearchUsers(keyword, pageStr, limitStr, userUID string) ([]*ResponseUserShort, *jsonrpc2.RPCError, int) {
	intPage, err := strconv.Atoi(pageStr)
	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "invalid page input"}, http.StatusOK
	}

	intLimit, err := strconv.Atoi(limitStr)
	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "invalid limit input"}, http.StatusOK
	}

	//handle for keyword empty
	if len(keyword) == 0 || keyword == "@" {
		return nil, &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "invalid search input"}, http.StatusOK
	}

	ok := utils.IsValidUid(userUID)
	if !ok {
		return nil, &jsonrpc2.RPCError{Code: http.StatusForbidden, Message: "uid invalid"}, http.StatusOK
	}

	_, err = me.userService.FindUserById(userUID)
	if err != nil {
		if strings.Contains(err.Error(), "exists") {
			return nil, &jsonrpc2.RPCError{Code: http.StatusNotFound, Message: err.Error()}, http.StatusOK
		}
		return nil, &jsonrpc2.RPCError{Code: http.StatusBadGateway, Message: err.Error()}, http.StatusOK
	}

	var users []*DBUser
	if strings.HasPrefix(keyword, "@") {
		keyword = strings.ToLower(keyword[1:])
		_, err = utils.IsValidUsername(keyword)
		if err != nil {
			return nil, &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "invalid username input"}, http.StatusOK
		}
		users, err = me.userService.FindUsersByKeyUsername(keyword, intPage, intLimit)
	} else {
		_, err = utils.IsValidName(keyword)
		if err != nil {
			return nil, &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "invalid name input"}, http.StatusOK
		}
		users, err = me.userService.FindUsersByKeyName(keyword, intPage, intLimit)
	}

	if err != nil {
		return nil, &jsonrpc2.RPCError{Code: http.StatusBadGateway, Message: err.Error()}, http.StatusOK
	}

	resusers := make([]*ResponseUserShort, 0, len(users))
	for _, u := range users {
		if u.UID == userUID {
			continue
		}

		resusers = append(resusers, &ResponseUserShort{
			Name:     u.Name,
			Username: u.Username,
			Avatar:   u.Avatar,
		})
	}

	return resusers, nil, http.StatusOK
}
