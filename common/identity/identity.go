// Package identity reads the signed-in user out of the session cookie issued by the auth service.
// The wave services never create sessions themselves.
package identity

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	hr "github.com/julienschmidt/httprouter"
	"wuyrush.io/wave/common/logging"
	mw "wuyrush.io/wave/common/middleware"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
)

type ctxKey string

const userKey ctxKey = cst.ContextKeyUserID

// Identity verifies session cookies with the secret shared with the auth service
type Identity struct {
	store *sessions.CookieStore
}

func New(secret []byte) *Identity {
	return &Identity{store: sessions.NewCookieStore(secret)}
}

// UserFromRequest returns the id of the user the request's session belongs to
func (id *Identity) UserFromRequest(r *http.Request) (string, *se.Err) {
	sess, err := id.store.Get(r, cst.SessionName)
	if err != nil {
		logging.WithFuncName().WithError(err).Debug("error decoding session cookie")
		return "", se.NewUnauthorized("invalid session").WithCause(err)
	}
	userID, ok := sess.Values[cst.SessionKeyUserID].(string)
	if !ok || userID == "" {
		return "", se.NewUnauthorized("not signed in")
	}
	return userID, nil
}

// Encode returns the session cookie value of userID, as the auth service would issue it
func (id *Identity) Encode(userID string) (string, *se.Err) {
	v, err := securecookie.EncodeMulti(cst.SessionName, map[interface{}]interface{}{
		cst.SessionKeyUserID: userID,
	}, id.store.Codecs...)
	if err != nil {
		return "", se.NewServiceFailure("error encoding session").WithCause(err)
	}
	return v, nil
}

// Middleware rejects unauthenticated requests and stores the user id in the request context
func (id *Identity) Middleware() mw.Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			userID, err := id.UserFromRequest(r)
			if err != nil {
				mw.RespondErr(w, err)
				return
			}
			h(w, r.WithContext(WithUser(r.Context(), userID)), p)
		}
	}
}

// Gin is Middleware for gin routes. The user id is kept under the same key in the gin context.
func (id *Identity) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := id.UserFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(err.StatusCode(), err.Body())
			return
		}
		c.Set(cst.ContextKeyUserID, userID)
		c.Next()
	}
}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// User returns the user id stored by Middleware
func User(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey).(string)
	return userID, ok
}

// GinUser returns the user id stored by Gin
func GinUser(c *gin.Context) (string, bool) {
	userID := c.GetString(cst.ContextKeyUserID)
	return userID, userID != ""
}
