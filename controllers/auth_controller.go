package controllers

import (
	"errors"
	"net/http"

	"lending_portal/app"
	"lending_portal/backend"
	"lending_portal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuthController struct{ *Srv }

func NewAuthController(s *Srv) *AuthController { return &AuthController{Srv: s} }

type loginForm struct {
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required"`
	Next     string `form:"next"`
}

func (ac *AuthController) LoginPage(c *gin.Context) {
	ac.render(c, http.StatusOK, "login", gin.H{"Title": "Sign in", "Next": c.Query("next")})
}

// POST /login：后端登录成功后，把后端 Cookie 存进 Redis 会话
func (ac *AuthController) Login(c *gin.Context) {
	var in loginForm
	fail := func(err error) {
		ac.render(c, statusOf(err), "login", gin.H{
			"Title": "Sign in", "Next": in.Next, "Email": in.Email,
			"Error": ac.userError(c, err, "Sign in failed"),
		})
	}
	if err := c.ShouldBind(&in); err != nil {
		fail(bindError(err))
		return
	}

	ctx := c.Request.Context()
	bs := ac.Backend.Session("")
	res, err := bs.Login(ctx, in.Email, in.Password)
	if err != nil {
		fail(err)
		return
	}
	token := bs.Token()
	if token == "" {
		fail(&backend.UnexpectedError{Op: "POST /login", Err: errors.New("no session cookie in response")})
		return
	}
	me, err := bs.Me(ctx)
	if err != nil {
		fail(err)
		return
	}

	id := uuid.NewString()
	if err := ac.AppSess.Create(ctx, id, session.AppSession{
		UserID:       res.UserID,
		Name:         me.Name,
		IsAdmin:      me.IsAdmin,
		BackendToken: token,
	}); err != nil {
		fail(&backend.UnexpectedError{Op: "create session", Err: err})
		return
	}
	app.SetSessionCookie(c.Writer, id, ac.AppSess.TTL(), ac.Cfg.SecureCookies())
	ac.Logger.Info("signed in", zap.Int64("user_id", res.UserID))
	ac.redirect(c, safeNext(in.Next))
}

// POST /logout：先登出后端，再删本地会话
func (ac *AuthController) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if sid, as := app.LoadSession(c, ac.AppSess); as != nil {
		if err := ac.Backend.Session(as.BackendToken).Logout(ctx); err != nil {
			ac.Logger.Debug("backend logout", zap.Error(err)) // 忽略，本地会话照删
		}
		_ = ac.AppSess.Delete(ctx, sid)
	}
	app.SetSessionCookie(c.Writer, "", -1, ac.Cfg.SecureCookies())
	ac.redirect(c, "/login")
}

type signUpForm struct {
	Name     string `form:"name" binding:"required"`
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required"`
	Grade    string `form:"grade" binding:"required,oneof=U4 M1 M2 OB_OG"`
}

func (ac *AuthController) SignUpPage(c *gin.Context) {
	ac.render(c, http.StatusOK, "signup", gin.H{"Title": "Sign up", "Grades": backend.Grades, "Form": signUpForm{}})
}

func (ac *AuthController) SignUp(c *gin.Context) {
	var in signUpForm
	err := c.ShouldBind(&in)
	if err != nil {
		err = bindError(err)
	} else {
		_, err = ac.Backend.Session("").SignUp(c.Request.Context(), backend.SignUpInput{
			Name: in.Name, Email: in.Email, Password: in.Password, Grade: backend.Grade(in.Grade),
		})
	}
	if err != nil {
		in.Password = ""
		ac.render(c, statusOf(err), "signup", gin.H{
			"Title": "Sign up", "Grades": backend.Grades, "Form": in,
			"Error": ac.userError(c, err, "Sign up failed"),
		})
		return
	}
	ac.flash(c, session.FlashInfo, "Your account has been created. Please sign in.")
	ac.redirect(c, "/login")
}

type forgotForm struct {
	Email string `form:"email" binding:"required,email"`
}

func (ac *AuthController) ForgotPage(c *gin.Context) {
	ac.render(c, http.StatusOK, "forgot_password", gin.H{"Title": "Forgot password"})
}

func (ac *AuthController) Forgot(c *gin.Context) {
	var in forgotForm
	err := c.ShouldBind(&in)
	if err != nil {
		err = bindError(err)
	} else {
		err = ac.Backend.Session("").ForgotPassword(c.Request.Context(), in.Email)
	}
	if err != nil {
		ac.render(c, statusOf(err), "forgot_password", gin.H{
			"Title": "Forgot password", "Email": in.Email,
			"Error": ac.userError(c, err, "Could not send the reset link"),
		})
		return
	}
	ac.render(c, http.StatusOK, "forgot_password", gin.H{
		"Title": "Forgot password", "Sent": true,
		"Flash": &session.Flash{Kind: session.FlashInfo, Message: "A password reset link has been sent to " + in.Email + "."},
	})
}

type resetForm struct {
	Token    string `form:"token" binding:"required"`
	Password string `form:"password" binding:"required"`
	Confirm  string `form:"confirm" binding:"required,eqfield=Password"`
}

func (ac *AuthController) ResetPage(c *gin.Context) {
	ac.render(c, http.StatusOK, "reset_password", gin.H{"Title": "Reset password", "Token": c.Query("token")})
}

func (ac *AuthController) Reset(c *gin.Context) {
	var in resetForm
	err := c.ShouldBind(&in)
	if err != nil {
		err = bindError(err)
	} else {
		err = ac.Backend.Session("").ResetPassword(c.Request.Context(), in.Token, in.Password)
	}
	if err != nil {
		ac.render(c, statusOf(err), "reset_password", gin.H{
			"Title": "Reset password", "Token": in.Token,
			"Error": ac.userError(c, err, "Could not reset the password"),
		})
		return
	}
	ac.flash(c, session.FlashInfo, "Your password has been reset. Please sign in.")
	ac.redirect(c, "/login")
}

type changePasswordForm struct {
	CurrentPassword string `form:"current_password" binding:"required"`
	NewPassword     string `form:"new_password" binding:"required"`
	Confirm         string `form:"confirm" binding:"required,eqfield=NewPassword"`
}

func (ac *AuthController) ChangePasswordPage(c *gin.Context) {
	ac.render(c, http.StatusOK, "changepassword", gin.H{"Title": "Change password"})
}

func (ac *AuthController) ChangePassword(c *gin.Context) {
	var in changePasswordForm
	err := c.ShouldBind(&in)
	if err != nil {
		err = bindError(err)
	} else {
		err = app.BackendOf(c).ChangePassword(c.Request.Context(), in.CurrentPassword, in.NewPassword)
	}
	if err != nil {
		ac.render(c, statusOf(err), "changepassword", gin.H{
			"Title": "Change password",
			"Error": ac.userError(c, err, "Could not change the password"),
		})
		return
	}
	ac.flash(c, session.FlashInfo, "Your password has been changed.")
	ac.redirect(c, "/equipments")
}
