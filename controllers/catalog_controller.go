package controllers

import (
	"net/http"
	"strconv"

	"lending_portal/app"
	"lending_portal/backend"
	"lending_portal/session"

	"github.com/gin-gonic/gin"
)

// CatalogController 管理员维护物品和分类
type CatalogController struct{ *Srv }

func NewCatalogController(s *Srv) *CatalogController { return &CatalogController{Srv: s} }

// GET /admin/items?q=&category=&availability=&page=
func (cc *CatalogController) ListItems(c *gin.Context) {
	ctx := c.Request.Context()
	bs := app.BackendOf(c)
	var q ItemQuery
	_ = c.ShouldBindQuery(&q)

	data := gin.H{"Title": "Items", "Query": q, "Items": paginate([]backend.Item{}, 1, pageSize)}
	items, err := bs.ListItems(ctx)
	if err != nil {
		data["Error"] = cc.userError(c, err, "Could not load items")
		cc.render(c, statusOf(err), "admin_items", data)
		return
	}
	cats, _ := bs.ListCategories(ctx)
	data["Categories"] = cats
	data["Items"] = pageOf(c, filter(withCategoryNames(items, cats), q.Match))
	cc.render(c, http.StatusOK, "admin_items", data)
}

type itemForm struct {
	Name        string `form:"name" binding:"required"`
	CategoryID  string `form:"category_id"`
	Location    string `form:"location"`
	Notes       string `form:"notes"`
	IsAvailable bool   `form:"is_available"`
}

func (f itemForm) input() (backend.ItemInput, error) {
	in := backend.ItemInput{
		Name:        f.Name,
		Location:    optional(f.Location),
		Notes:       optional(f.Notes),
		IsAvailable: f.IsAvailable,
	}
	if f.CategoryID != "" {
		id, err := strconv.ParseInt(f.CategoryID, 10, 64)
		if err != nil {
			return in, backend.NewValidationError("category_id", "Please choose a valid category")
		}
		in.CategoryID = &id
	}
	return in, nil
}

func (cc *CatalogController) itemPage(c *gin.Context, status int, title, action string, form itemForm, errMsg string) {
	cats, err := app.BackendOf(c).ListCategories(c.Request.Context())
	if err != nil && errMsg == "" {
		errMsg = cc.userError(c, err, "Could not load categories")
	}
	cc.render(c, status, "admin_item_form", gin.H{
		"Title": title, "Action": action, "Form": form, "Categories": cats, "Error": errMsg,
	})
}

func (cc *CatalogController) NewItemPage(c *gin.Context) {
	cc.itemPage(c, http.StatusOK, "New item", "/admin/items/new", itemForm{IsAvailable: true}, "")
}

func (cc *CatalogController) CreateItem(c *gin.Context) {
	var f itemForm
	err := c.ShouldBind(&f)
	if err != nil {
		err = bindError(err)
	}
	var in backend.ItemInput
	if err == nil {
		in, err = f.input()
	}
	if err == nil {
		_, err = app.BackendOf(c).CreateItem(c.Request.Context(), in)
	}
	if err != nil {
		cc.itemPage(c, statusOf(err), "New item", "/admin/items/new", f, cc.userError(c, err, "Could not create the item"))
		return
	}
	cc.flash(c, session.FlashInfo, "Item \""+f.Name+"\" has been created.")
	cc.redirect(c, "/admin/items")
}

func (cc *CatalogController) EditItemPage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		cc.notFound(c, "Item")
		return
	}
	it, err := app.BackendOf(c).GetItem(c.Request.Context(), id)
	if err != nil {
		if notFound(err) {
			cc.notFound(c, "Item")
			return
		}
		cc.render(c, statusOf(err), "error", gin.H{"Title": "Items", "Error": cc.userError(c, err, "Could not load the item")})
		return
	}
	f := itemForm{Name: it.Name, IsAvailable: it.IsAvailable}
	if it.CategoryID != nil {
		f.CategoryID = strconv.FormatInt(*it.CategoryID, 10)
	}
	if it.Location != nil {
		f.Location = *it.Location
	}
	if it.Notes != nil {
		f.Notes = *it.Notes
	}
	cc.itemPage(c, http.StatusOK, "Edit item", "/admin/items/"+c.Param("id")+"/edit", f, "")
}

func (cc *CatalogController) UpdateItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		cc.notFound(c, "Item")
		return
	}
	var f itemForm
	err := c.ShouldBind(&f)
	if err != nil {
		err = bindError(err)
	}
	var in backend.ItemInput
	if err == nil {
		in, err = f.input()
	}
	if err == nil {
		_, err = app.BackendOf(c).UpdateItem(c.Request.Context(), id, in)
	}
	if err != nil {
		cc.itemPage(c, statusOf(err), "Edit item", "/admin/items/"+c.Param("id")+"/edit", f, cc.userError(c, err, "Could not update the item"))
		return
	}
	cc.flash(c, session.FlashInfo, "Item \""+f.Name+"\" has been updated.")
	cc.redirect(c, "/admin/items")
}

// GET /admin/categories?q=&page=
func (cc *CatalogController) ListCategories(c *gin.Context) {
	q := c.Query("q")
	data := gin.H{"Title": "Categories", "Q": q, "Categories": paginate([]backend.Category{}, 1, pageSize)}
	cats, err := app.BackendOf(c).ListCategories(c.Request.Context())
	if err != nil {
		data["Error"] = cc.userError(c, err, "Could not load categories")
		cc.render(c, statusOf(err), "admin_categories", data)
		return
	}
	data["Categories"] = pageOf(c, filter(cats, matchCategory(q)))
	cc.render(c, http.StatusOK, "admin_categories", data)
}

type categoryForm struct {
	Name string `form:"name" binding:"required"`
}

func (cc *CatalogController) categoryPage(c *gin.Context, status int, title, action, name, errMsg string) {
	cc.render(c, status, "admin_category_form", gin.H{"Title": title, "Action": action, "Name": name, "Error": errMsg})
}

func (cc *CatalogController) NewCategoryPage(c *gin.Context) {
	cc.categoryPage(c, http.StatusOK, "New category", "/admin/categories/new", "", "")
}

func (cc *CatalogController) CreateCategory(c *gin.Context) {
	var f categoryForm
	err := c.ShouldBind(&f)
	if err != nil {
		err = bindError(err)
	} else {
		_, err = app.BackendOf(c).CreateCategory(c.Request.Context(), f.Name)
	}
	if err != nil {
		cc.categoryPage(c, statusOf(err), "New category", "/admin/categories/new", f.Name, cc.userError(c, err, "Could not create the category"))
		return
	}
	cc.flash(c, session.FlashInfo, "Category \""+f.Name+"\" has been created.")
	cc.redirect(c, "/admin/categories")
}

func (cc *CatalogController) EditCategoryPage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		cc.notFound(c, "Category")
		return
	}
	cat, err := app.BackendOf(c).GetCategory(c.Request.Context(), id)
	if err != nil {
		if notFound(err) {
			cc.notFound(c, "Category")
			return
		}
		cc.render(c, statusOf(err), "error", gin.H{"Title": "Categories", "Error": cc.userError(c, err, "Could not load the category")})
		return
	}
	cc.categoryPage(c, http.StatusOK, "Edit category", "/admin/categories/"+c.Param("id")+"/edit", cat.Name, "")
}

func (cc *CatalogController) UpdateCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		cc.notFound(c, "Category")
		return
	}
	var f categoryForm
	err := c.ShouldBind(&f)
	if err != nil {
		err = bindError(err)
	} else {
		_, err = app.BackendOf(c).UpdateCategory(c.Request.Context(), id, f.Name)
	}
	if err != nil {
		cc.categoryPage(c, statusOf(err), "Edit category", "/admin/categories/"+c.Param("id")+"/edit", f.Name, cc.userError(c, err, "Could not update the category"))
		return
	}
	cc.flash(c, session.FlashInfo, "Category \""+f.Name+"\" has been updated.")
	cc.redirect(c, "/admin/categories")
}
