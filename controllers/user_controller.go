package controllers

import (
	"net/http"

	"lending_portal/app"
	"lending_portal/backend"
	"lending_portal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserController struct{ *Srv }

func NewUserController(s *Srv) *UserController { return &UserController{Srv: s} }

// GET /admin/users?q=alice&page=1
func (uc *UserController) ListUsers(c *gin.Context) {
	q := c.Query("q")
	data := gin.H{"Title": "Users", "Q": q, "Users": paginate([]backend.User{}, 1, pageSize)}
	users, err := app.BackendOf(c).ListUsers(c.Request.Context())
	if err != nil {
		data["Error"] = uc.userError(c, err, "Could not load users")
		uc.render(c, statusOf(err), "admin_users", data)
		return
	}
	data["Users"] = pageOf(c, filter(users, matchUser(q)))
	uc.render(c, http.StatusOK, "admin_users", data)
}

type userForm struct {
	Name     string `form:"name" binding:"required"`
	Email    string `form:"email" binding:"required,email"`
	Grade    string `form:"grade" binding:"required,oneof=U4 M1 M2 OB_OG"`
	Password string `form:"password"`
	IsAdmin  bool   `form:"is_admin"`
	IsActive bool   `form:"is_active"`
}

func (uc *UserController) userPage(c *gin.Context, status int, id string, f userForm, errMsg string) {
	uc.render(c, status, "admin_user_form", gin.H{
		"Title": "Edit user", "Action": "/admin/users/" + id + "/edit", "Form": f, "Grades": backend.Grades, "Error": errMsg,
	})
}

// newUserForm 新建用户时密码必填
type newUserForm struct {
	Name     string `form:"name" binding:"required"`
	Email    string `form:"email" binding:"required,email"`
	Grade    string `form:"grade" binding:"required,oneof=U4 M1 M2 OB_OG"`
	Password string `form:"password" binding:"required"`
	IsAdmin  bool   `form:"is_admin"`
}

func (uc *UserController) newUserPage(c *gin.Context, status int, f newUserForm, errMsg string) {
	uc.render(c, status, "admin_user_form", gin.H{
		"Title": "New user", "Action": "/admin/users/new", "New": true,
		"Form": userForm{Name: f.Name, Email: f.Email, Grade: f.Grade, IsAdmin: f.IsAdmin},
		"Grades": backend.Grades, "Error": errMsg,
	})
}

func (uc *UserController) NewUserPage(c *gin.Context) {
	uc.newUserPage(c, http.StatusOK, newUserForm{Grade: string(backend.GradeU4)}, "")
}

// POST /admin/users/new
func (uc *UserController) CreateUser(c *gin.Context) {
	var f newUserForm
	err := c.ShouldBind(&f)
	if err != nil {
		err = bindError(err)
	} else {
		_, err = app.BackendOf(c).CreateUser(c.Request.Context(), backend.UserCreate{
			Name:     f.Name,
			Email:    f.Email,
			Password: f.Password,
			Grade:    backend.Grade(f.Grade),
			IsAdmin:  f.IsAdmin,
		})
	}
	if err != nil {
		uc.newUserPage(c, statusOf(err), f, uc.userError(c, err, "Could not create the user"))
		return
	}
	uc.flash(c, session.FlashInfo, "User \""+f.Name+"\" has been created.")
	uc.redirect(c, "/admin/users")
}

func (uc *UserController) EditUserPage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		uc.notFound(c, "User")
		return
	}
	u, err := app.BackendOf(c).GetUser(c.Request.Context(), id)
	if err != nil {
		if notFound(err) {
			uc.notFound(c, "User")
			return
		}
		uc.render(c, statusOf(err), "error", gin.H{"Title": "Users", "Error": uc.userError(c, err, "Could not load the user")})
		return
	}
	uc.userPage(c, http.StatusOK, c.Param("id"), userForm{
		Name: u.Name, Email: u.Email, Grade: string(u.Grade), IsAdmin: u.IsAdmin, IsActive: u.IsActive,
	}, "")
}

// POST /admin/users/:id/edit：密码留空则不修改
func (uc *UserController) UpdateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		uc.notFound(c, "User")
		return
	}
	var f userForm
	err := c.ShouldBind(&f)
	if err != nil {
		err = bindError(err)
	} else {
		_, err = app.BackendOf(c).UpdateUser(c.Request.Context(), id, backend.UserUpdate{
			Name:     f.Name,
			Grade:    backend.Grade(f.Grade),
			Email:    f.Email,
			Password: optional(f.Password),
			IsAdmin:  f.IsAdmin,
			IsActive: f.IsActive,
		})
	}
	if err != nil {
		f.Password = ""
		uc.userPage(c, statusOf(err), c.Param("id"), f, uc.userError(c, err, "Could not update the user"))
		return
	}

	// 停用用户时，撤销该用户的所有网页会话
	if !f.IsActive {
		if err := uc.AppSess.RevokeAllForUser(c.Request.Context(), id); err != nil {
			uc.Logger.Warn("revoke sessions", zap.Int64("user_id", id), zap.Error(err))
		}
	}
	uc.flash(c, session.FlashInfo, "User \""+f.Name+"\" has been updated.")
	uc.redirect(c, "/admin/users")
}
