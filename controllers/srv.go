// controllers/srv.go
package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lending_portal/app"
	"lending_portal/backend"
	"lending_portal/db"
	"lending_portal/session"
	"lending_portal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const flashCookie = "app_flash"

type Srv struct {
	Backend  *backend.Client
	Workflow *workflow.Workflow
	AppSess  *session.AppSessionStore
	Store    *session.Store
	Repo     *db.Repo // nil 时不记录操作日志
	Cfg      app.Config
	Logger   *zap.Logger
}

func GetSrv(a *app.App) *Srv {
	return &Srv{
		Backend:  a.Backend,
		Workflow: a.Workflow,
		AppSess:  a.AppSessions(),
		Store:    a.Store(),
		Repo:     a.Repo(),
		Cfg:      a.Config,
		Logger:   a.Logger.Named("web"),
	}
}

// --- helpers ---

// render 补上所有页面共用的数据：身份、一次性提示、当前路径
func (s *Srv) render(c *gin.Context, status int, page string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["Identity"] = app.IdentityOf(c)
	if _, ok := data["Flash"]; !ok {
		data["Flash"] = s.popFlash(c)
	}
	data["Path"] = c.Request.URL.Path
	c.HTML(status, page, data)
}

func (s *Srv) notFound(c *gin.Context, what string) {
	s.render(c, http.StatusNotFound, "error", gin.H{"Title": "Not found", "Error": what + " not found"})
}

// flashID 登录后用会话 ID；匿名时用单独的短期 Cookie
func (s *Srv) flashID(c *gin.Context, create bool) string {
	if sid, _ := app.LoadSession(c, s.AppSess); sid != "" {
		return sid
	}
	if ck, err := c.Request.Cookie(flashCookie); err == nil && ck.Value != "" {
		return "anon:" + ck.Value
	}
	if !create {
		return ""
	}
	id := uuid.NewString()
	http.SetCookie(c.Writer, &http.Cookie{
		Name: flashCookie, Value: id, Path: "/", HttpOnly: true,
		SameSite: http.SameSiteLaxMode, Secure: s.Cfg.SecureCookies(), MaxAge: int(session.FlashTTL / time.Second),
	})
	return "anon:" + id
}

func (s *Srv) flash(c *gin.Context, kind, msg string) {
	if err := s.Store.SetFlash(c, s.flashID(c, true), session.Flash{Kind: kind, Message: msg}); err != nil {
		s.Logger.Warn("set flash", zap.Error(err))
	}
}

func (s *Srv) popFlash(c *gin.Context) *session.Flash {
	id := s.flashID(c, false)
	if id == "" {
		return nil
	}
	f, err := s.Store.PopFlash(c, id)
	if err != nil {
		s.Logger.Warn("pop flash", zap.Error(err))
	}
	return f
}

func (s *Srv) redirect(c *gin.Context, to string) { c.Redirect(http.StatusSeeOther, to) }

// userError 记录错误并转成给用户看的文字
func (s *Srv) userError(c *gin.Context, err error, fallback string) string {
	kind := backend.Classify(err)
	_ = c.Error(err)
	if kind == "network" || kind == "unexpected" {
		s.Logger.Warn("request failed", zap.String("kind", kind), zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		s.Logger.Debug("request refused", zap.String("kind", kind), zap.Error(err))
	}
	return backend.UserMessage(err, fallback)
}

// statusOf 错误对应的页面状态码
func statusOf(err error) int {
	var re *backend.RemoteError
	switch {
	case err == nil:
		return http.StatusOK
	case backend.Classify(err) == "validation":
		return http.StatusUnprocessableEntity
	case errors.As(err, &re) && re.Status >= 400 && re.Status < 500:
		return re.Status
	default:
		return http.StatusBadGateway
	}
}

func notFound(err error) bool {
	var re *backend.RemoteError
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

var fieldLabels = map[string]string{
	"Email":           "Email",
	"Password":        "Password",
	"Confirm":         "Password confirmation",
	"CurrentPassword": "Current password",
	"NewPassword":     "New password",
	"Name":            "Name",
	"Grade":           "Grade",
	"Token":           "Reset token",
}

// bindError 把 gin 绑定失败转成 ValidationError
func bindError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return backend.NewValidationError("", "Please check the form")
	}
	fe := ve[0]
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return backend.NewValidationError(field, "%s is required", label)
	case "email":
		return backend.NewValidationError(field, "Please enter a valid email address")
	case "eqfield":
		return backend.NewValidationError(field, "The passwords do not match")
	case "oneof":
		return backend.NewValidationError(field, "%s must be one of %s", label, fe.Param())
	case "min":
		return backend.NewValidationError(field, "%s must be at least %s characters", label, fe.Param())
	}
	return backend.NewValidationError(field, "%s is invalid", label)
}

// optional 空串转 nil
func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

// safeNext 只允许站内相对路径
func safeNext(next string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.HasPrefix(next, "/\\") {
		return next
	}
	return "/equipments"
}
