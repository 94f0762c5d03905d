package user

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/juju/ratelimit"
	"go.mongodb.org/mongo-driver/mongo"

	"temu/auth"
	"temu/jsonrpc2"
	"temu/utils"
)

var Logger logr.Logger = logr.Discard()

type UserRoute struct {
	userController UserController
	limiter        *ratelimit.Bucket
}

func NewUserRoute(mongoclient *mongo.Client, ctx context.Context, l logr.Logger, limiter *ratelimit.Bucket) UserRoute {
	Logger = l
	Logger.V(2).Info("NewUserRoute created")
	userCollection := mongoclient.Database("temu").Collection("users")
	userService := NewUserService(userCollection, ctx)
	userController := NewUserController(userService)
	return UserRoute{userController, limiter}
}

func CheckAllowCredentials(ctx *gin.Context, res *ResponseUser, code int) *ResponseUser {
	if res != nil {
		a := ctx.GetHeader("Access-Control-Allow-Credentials")
		c := ctx.GetHeader("credentials")
		if a == "true" || c == "true" {
			Logger.V(2).Info("set the JWT as an HTTP-only cookie")
			http.SetCookie(ctx.Writer, &http.Cookie{
				Name:     "jwt",
				Value:    res.JWT,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Expires:  time.Now().Add(25 * time.Hour),
				Path:     "/",
			})

			res.JWT = "#included"
		}
	}

	return res
}

func (me *UserRoute) InitRouteTo(rg *gin.RouterGroup) {
	router := rg.Group("/usr")
	router.POST("/rpc", me.RateLimit, me.AuthCheck, me.RPCHandle)
}

func (me *UserRoute) RateLimit(ctx *gin.Context) {
	// Check if the request is allowed by the rate limiter
	if me.limiter.TakeAvailable(1) == 0 {
		// The request is not allowed, so return an error
		ctx.AbortWithStatus(http.StatusTooManyRequests)
		return
	}
	ctx.Next()
}

// AuthCheck parses a bearer token or jwt cookie into "validuser" when
// present. Methods that need it check for the key themselves; Login runs
// without it.
func (me *UserRoute) AuthCheck(ctx *gin.Context) {
	token := ""
	if h := ctx.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if cookie, err := ctx.Cookie("jwt"); err == nil {
		token = cookie
	}

	if token != "" {
		if claims, err := auth.ValidateToken(token); err == nil {
			ctx.Set("validuser", claims)
		}
	}
	ctx.Next()
}

func (me *UserRoute) GetUserService() I_UserRepo {
	return me.userController.userService
}

func (me *UserRoute) RPCHandle(ctx *gin.Context) {
	var jreq jsonrpc2.RPCRequest
	if err := ctx.ShouldBindJSON(&jreq); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"status": "jsonrpc fail", "message": err.Error()})
		return
	}

	Logger.V(2).Info(fmt.Sprintf("RPCHandle %s", jreq.Method))

	jres := &jsonrpc2.RPCResponse{
		JSONRPC: "2.0",
		ID:      jreq.ID,
	}

	statuscode := http.StatusBadRequest
	switch jreq.Method {
	case "Login":
		statuscode = me.method_Login(ctx, &jreq, jres)
	case "RefreshToken":
		statuscode = me.method_RefreshToken(ctx, &jreq, jres)
	case "GetSelf":
		statuscode = me.method_GetSelf(ctx, &jreq, jres)
	case "UpdateProfile":
		statuscode = me.method_UpdateProfile(ctx, &jreq, jres)
	case "DeleteAccount":
		statuscode = me.method_DeleteAccount(ctx, &jreq, jres)
	case "SearchUser":
		statuscode = me.method_SearchUser(ctx, &jreq, jres)
	default:
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusMethodNotAllowed, Message: "method not allowed"}
	}

	if jres.Error != nil {
		Logger.Error(fmt.Errorf(jres.Error.Message), "response with error")
	}
	ctx.JSON(statuscode, jres)
}

func (me *UserRoute) method_Login(ctx *gin.Context, jreq *jsonrpc2.RPCRequest, jres *jsonrpc2.RPCResponse) int {
	var login *Login
	err := json.Unmarshal(jreq.Params, &login)
	if err != nil {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: err.Error()}
		return http.StatusBadRequest
	}

	res, e, code := me.userController.LoginOrRegister(login)
	res = CheckAllowCredentials(ctx, res, code)
	jres.Result, _ = utils.ToRawMessage(res)
	jres.Error = e

	return code
}

func (me *UserRoute) method_RefreshToken(ctx *gin.Context, jreq *jsonrpc2.RPCRequest, jres *jsonrpc2.RPCResponse) int {
	vuser, ok := ctx.Get("validuser")
	if !ok {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "unauthorized"}
		return http.StatusUnauthorized
	}

	var reg *GetUserRequest
	err := json.Unmarshal(jreq.Params, &reg)
	if err != nil {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: err.Error()}
		return http.StatusBadRequest
	}

	validuser := vuser.(*auth.Claims)
	expiresAt := time.Unix(validuser.ExpiresAt, 0)
	//check if token has been expired more than duration
	if !time.Now().Add(time.Hour * 12).After(expiresAt) {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "session expired"}
		return http.StatusUnauthorized
	}

	if validuser.GetUID() != reg.UID {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "ilegal jwt"}
		return http.StatusBadRequest
	}

	res, e, code := me.userController.FindUserById(reg.UID)
	if e == nil {
		res.JWT, _ = auth.CreateJWTToken(reg.UID, res.Username)
	}
	res = CheckAllowCredentials(ctx, res, code)
	jres.Result, _ = utils.ToRawMessage(res)
	jres.Error = e

	return code
}

func (me *UserRoute) method_GetSelf(ctx *gin.Context, jreq *jsonrpc2.RPCRequest, jres *jsonrpc2.RPCResponse) int {
	vuser, ok := ctx.Get("validuser")
	if !ok {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "unauthorized"}
		return http.StatusUnauthorized
	}

	validuser := vuser.(*auth.Claims)
	if validuser.IsExpired() {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "session expired"}
		return http.StatusUnauthorized
	}

	var reg *GetUserRequest
	err := json.Unmarshal(jreq.Params, &reg)
	if err != nil {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: err.Error()}
		return http.StatusBadRequest
	}

	if validuser.GetUID() != reg.UID {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "ilegal jwt"}
		return http.StatusBadRequest
	}

	res, e, code := me.userController.FindUserById(reg.UID)
	jres.Result, _ = utils.ToRawMessage(res)
	jres.Error = e

	return code
}

func (me *UserRoute) method_UpdateProfile(ctx *gin.Context, jreq *jsonrpc2.RPCRequest, jres *jsonrpc2.RPCResponse) int {
	vuser, ok := ctx.Get("validuser")
	if !ok {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "unauthorized"}
		return http.StatusUnauthorized
	}

	var req *UpdateUserRequest
	err := json.Unmarshal(jreq.Params, &req)
	if err != nil {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: err.Error()}
		return http.StatusBadRequest
	}

	validuser := vuser.(*auth.Claims)
	if validuser.IsExpired() {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "session expired"}
		return http.StatusUnauthorized
	}

	if validuser.GetUID() != req.UID {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "ilegal jwt"}
		return http.StatusBadRequest
	}

	res, e, code := me.userController.UpdateProfile(req)
	jres.Result, _ = utils.ToRawMessage(res)
	jres.Error = e

	return code
}

func (me *UserRoute) method_DeleteAccount(ctx *gin.Context, jreq *jsonrpc2.RPCRequest, jres *jsonrpc2.RPCResponse) int {
	vuser, ok := ctx.Get("validuser")
	if !ok {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "unauthorized"}
		return http.StatusUnauthorized
	}

	var reg *GetUserRequest
	err := json.Unmarshal(jreq.Params, &reg)
	if err != nil {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: err.Error()}
		return http.StatusBadRequest
	}

	validuser := vuser.(*auth.Claims)
	if validuser.GetUID() != reg.UID {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "ilegal jwt"}
		return http.StatusBadRequest
	}

	res, e, code := me.userController.DeleteAccount(reg.UID)
	jres.Result, _ = utils.ToRawMessage(res)
	jres.Error = e

	return code
}

func (me *UserRoute) method_SearchUser(ctx *gin.Context, jreq *jsonrpc2.RPCRequest, jres *jsonrpc2.RPCResponse) int {
	vuser, ok := ctx.Get("validuser")
	if !ok {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "unauthorized"}
		return http.StatusUnauthorized
	}

	validuser := vuser.(*auth.Claims)
	if validuser.IsExpired() {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusUnauthorized, Message: "session expired"}
		return http.StatusUnauthorized
	}

	var reg *SearchUser
	err := json.Unmarshal(jreq.Params, &reg)
	if err != nil {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: err.Error()}
		return http.StatusBadRequest
	}

	if validuser.GetUID() != reg.UID {
		jres.Error = &jsonrpc2.RPCError{Code: http.StatusBadRequest, Message: "ilegal jwt"}
		return http.StatusBadRequest
	}

	page := reg.Page
	if page == "" {
		page = "1"
	}

	limit := reg.Limit
	if limit == "" {
		limit = "10"
	}

	res, e, code := me.userController.SearchUsers(reg.Keyword, page, limit, reg.UID)
	jres.Result, _ = utils.ToRawMessage(res)
	jres.Error = e

	return code
}
