package app

import (
	"net/http"
	"net/url"
	"time"

	"lending_portal/backend"
	"lending_portal/guard"
	"lending_portal/session"
	"lending_portal/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const AppSessionCookie = "app_session"

const (
	ctxSessionID = "appSessionID"
	ctxSession   = "appSession"
	ctxBackend   = "backendSession"
	ctxIdentity  = "identity"
)

// SetSessionCookie 统一设置业务会话 Cookie；maxAge<0 表示删除
func SetSessionCookie(w http.ResponseWriter, sessionID string, maxAge time.Duration, secure bool) {
	age := int(maxAge / time.Second)
	if maxAge < 0 {
		age = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AppSessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		MaxAge:   age,
	})
}

// LoadSession 读取浏览器会话，没有时返回 ("", nil)
func LoadSession(c *gin.Context, appSess *session.AppSessionStore) (string, *session.AppSession) {
	if v, ok := c.Get(ctxSession); ok {
		return c.GetString(ctxSessionID), v.(*session.AppSession)
	}
	ck, err := c.Request.Cookie(AppSessionCookie)
	if err != nil || ck.Value == "" {
		return "", nil
	}
	as, err := appSess.Get(c.Request.Context(), ck.Value)
	if err != nil {
		return "", nil
	}
	c.Set(ctxSessionID, ck.Value)
	c.Set(ctxSession, as)
	return ck.Value, as
}

// Require 统一的守卫：同一个中间件按 capability 区分普通页面和管理页面。
// 身份每次都问后端 /me，判定完成前不会进入 handler。
func Require(capability guard.Capability, appSess *session.AppSessionStore, client *backend.Client, logger *zap.Logger) gin.HandlerFunc {
	g := guard.New(capability)
	log := logger.Named("guard")
	return func(c *gin.Context) {
		_, as := LoadSession(c, appSess)
		var src guard.IdentitySource
		bs := client.Session("")
		if as != nil && as.BackendToken != "" {
			bs = client.Session(as.BackendToken)
			src = bs
		}

		r := g.Evaluate(c.Request.Context(), src)
		switch r.Decision {
		case guard.Granted:
			c.Set(ctxBackend, bs)
			c.Set(ctxIdentity, r.Identity)
			c.Next()
		case guard.Denied:
			log.Debug("denied",
				zap.String("path", c.Request.URL.Path),
				zap.Stringer("capability", capability),
				zap.Bool("authenticated", r.Identity.Authenticated))
			if !r.Identity.Authenticated {
				c.Redirect(http.StatusSeeOther, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
				c.Abort()
				return
			}
			c.AbortWithStatus(http.StatusForbidden)
		default:
			// 客户端已断开
			c.Abort()
		}
	}
}

func IdentityOf(c *gin.Context) guard.Identity {
	if v, ok := c.Get(ctxIdentity); ok {
		return v.(guard.Identity)
	}
	return guard.Identity{}
}

// BackendOf 返回带凭证的后端会话；只在 Require 之后可用
func BackendOf(c *gin.Context) *backend.Session {
	if v, ok := c.Get(ctxBackend); ok {
		return v.(*backend.Session)
	}
	return nil
}

// ActorOf 用会话里保存的用户 ID 预填请求，管理员标志只认 /me 的结果
func ActorOf(c *gin.Context) workflow.Actor {
	id := IdentityOf(c)
	a := workflow.Actor{IsAdmin: id.Authenticated && id.IsAdmin}
	if v, ok := c.Get(ctxSession); ok {
		a.UserID = v.(*session.AppSession).UserID
	}
	if a.UserID == 0 && id.User != nil {
		a.UserID = id.User.ID
	}
	return a
}

func SessionIDOf(c *gin.Context) string { return c.GetString(ctxSessionID) }
