package routes

import (
	"net/http"
	"time"

	"lending_portal/app"
	"lending_portal/controllers"
	"lending_portal/guard"
	"lending_portal/web"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	pages, err := web.NewRenderer()
	if err != nil {
		a.Logger.Fatal("templates", zap.Error(err))
	}
	r.HTMLRender = pages

	// 控制器与依赖
	s := controllers.GetSrv(a)
	authCtl := controllers.NewAuthController(s)
	loanCtl := controllers.NewLoanController(s)
	adminCtl := controllers.NewAdminController(s)
	catalogCtl := controllers.NewCatalogController(s)
	userCtl := controllers.NewUserController(s)

	// 复用的中间件
	authMW := app.Require(guard.Authenticated, s.AppSess, s.Backend, a.Logger)
	adminMW := app.Require(guard.Admin, s.AppSess, s.Backend, a.Logger)
	seenMW := app.TouchSession(s.AppSess, s.Store, 5*time.Minute, a.Config.SecureCookies())

	// Health
	r.GET("/healthz", func(c *app.Ctx) { c.JSON(http.StatusOK, app.H{"ok": true}) })
	r.GET("/", func(c *app.Ctx) { c.Redirect(http.StatusSeeOther, "/equipments") })

	// ------------------------------
	// 公开：登录/注册/找回密码
	// ------------------------------
	r.GET("/login", authCtl.LoginPage)
	r.POST("/login", authCtl.Login)
	r.POST("/logout", authCtl.Logout)
	r.GET("/signup", authCtl.SignUpPage)
	r.POST("/signup", authCtl.SignUp)
	r.GET("/forgot-password", authCtl.ForgotPage)
	r.POST("/forgot-password", authCtl.Forgot)
	r.GET("/reset-password", authCtl.ResetPage)
	r.POST("/reset-password", authCtl.Reset)

	// ------------------------------
	// 已登录用户：浏览/借/取消/归还
	// ------------------------------
	authed := r.Group("", authMW, seenMW)
	{
		authed.GET("/equipments", loanCtl.ListEquipments) // ?q=&category=&availability=&page=
		authed.GET("/equipments/:id", loanCtl.EquipmentDetail)
		authed.POST("/equipments/:id/borrow", loanCtl.Borrow)

		authed.GET("/mylist", loanCtl.MyList)
		authed.GET("/mylist/:id/cancel", loanCtl.CancelConfirm)
		authed.POST("/mylist/:id/cancel", loanCtl.Cancel)
		authed.GET("/mylist/:id/return", loanCtl.ReturnConfirm)
		authed.POST("/mylist/:id/return", loanCtl.Return)

		authed.GET("/changepassword", authCtl.ChangePasswordPage)
		authed.POST("/changepassword", authCtl.ChangePassword)
	}

	// ------------------------------
	// 管理员
	// ------------------------------
	admin := r.Group("/admin", adminMW, seenMW)
	{
		admin.GET("", adminCtl.Dashboard)
		admin.GET("/requests/:id", adminCtl.DecideDialog)
		admin.POST("/requests/:id", adminCtl.Decide)
		admin.GET("/activity", adminCtl.Activity) // ?actor=&action=&page=

		admin.GET("/items", catalogCtl.ListItems)
		admin.GET("/items/new", catalogCtl.NewItemPage)
		admin.POST("/items/new", catalogCtl.CreateItem)
		admin.GET("/items/:id/edit", catalogCtl.EditItemPage)
		admin.POST("/items/:id/edit", catalogCtl.UpdateItem)

		admin.GET("/categories", catalogCtl.ListCategories)
		admin.GET("/categories/new", catalogCtl.NewCategoryPage)
		admin.POST("/categories/new", catalogCtl.CreateCategory)
		admin.GET("/categories/:id/edit", catalogCtl.EditCategoryPage)
		admin.POST("/categories/:id/edit", catalogCtl.UpdateCategory)

		admin.GET("/users", userCtl.ListUsers) // ?q=&page=
		admin.GET("/users/new", userCtl.NewUserPage)
		admin.POST("/users/new", userCtl.CreateUser)
		admin.GET("/users/:id/edit", userCtl.EditUserPage)
		admin.POST("/users/:id/edit", userCtl.UpdateUser)
	}
}
