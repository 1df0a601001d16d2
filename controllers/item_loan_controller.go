// controllers/item_loan_controller.go
package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"lending_portal/app"
	"lending_portal/backend"
	"lending_portal/session"
	"lending_portal/workflow"

	"github.com/gin-gonic/gin"
)

type LoanController struct{ *Srv }

func NewLoanController(s *Srv) *LoanController { return &LoanController{Srv: s} }

// GET /equipments?q=&category=&availability=&page=
func (lc *LoanController) ListEquipments(c *gin.Context) {
	ctx := c.Request.Context()
	bs := app.BackendOf(c)
	var q ItemQuery
	_ = c.ShouldBindQuery(&q)

	data := gin.H{"Title": "Equipment", "Query": q}
	items, err := bs.ListItems(ctx)
	if err != nil {
		data["Error"] = lc.userError(c, err, "Could not load the equipment list")
		data["Items"] = paginate([]backend.Item{}, 1, pageSize)
		lc.render(c, statusOf(err), "equipments", data)
		return
	}
	cats, err := bs.ListCategories(ctx)
	if err != nil {
		lc.userError(c, err, "")
	}
	data["Categories"] = cats
	data["Items"] = pageOf(c, filter(withCategoryNames(items, cats), q.Match))
	lc.render(c, http.StatusOK, "equipments", data)
}

// loadItem 取物品并补上分类名
func (lc *LoanController) loadItem(ctx context.Context, bs *backend.Session, id int64) (*backend.Item, error) {
	it, err := bs.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.Category == nil && it.CategoryID != nil {
		if cat, err := bs.GetCategory(ctx, *it.CategoryID); err == nil {
			it.Category = cat
		}
	}
	return it, nil
}

// imageURL 相对路径按后端地址解析，绝对地址原样返回
func imageURL(base string, p *string) string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(*p))
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil || ref.IsAbs() {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}

func (lc *LoanController) renderItem(c *gin.Context, status int, it *backend.Item, extra gin.H) {
	data := gin.H{"Title": it.Name, "Item": it, "ImageURL": imageURL(lc.Backend.BaseURL(), it.ImagePath)}
	for k, v := range extra {
		data[k] = v
	}
	lc.render(c, status, "equipment_detail", data)
}

// GET /equipments/:id
func (lc *LoanController) EquipmentDetail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		lc.notFound(c, "Item")
		return
	}
	it, err := lc.loadItem(c.Request.Context(), app.BackendOf(c), id)
	if notFound(err) {
		lc.notFound(c, "Item")
		return
	}
	if err != nil {
		lc.render(c, statusOf(err), "error", gin.H{"Title": "Equipment", "Error": lc.userError(c, err, "Could not load the item")})
		return
	}
	lc.renderItem(c, http.StatusOK, it, nil)
}

// POST /equipments/:id/borrow
func (lc *LoanController) Borrow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		lc.notFound(c, "Item")
		return
	}
	ctx := c.Request.Context()
	bs := app.BackendOf(c)
	reason := c.PostForm("reason")

	_, err := lc.Workflow.RequestBorrow(ctx, bs, app.ActorOf(c), id, reason)
	if err == nil {
		lc.flash(c, session.FlashInfo, "Your borrow request has been sent.")
		lc.redirect(c, "/mylist")
		return
	}

	msg := lc.userError(c, err, "Could not send the borrow request")
	it, lerr := lc.loadItem(ctx, bs, id)
	if lerr != nil {
		lc.render(c, statusOf(err), "error", gin.H{"Title": "Equipment", "Error": msg})
		return
	}
	lc.renderItem(c, statusOf(err), it, gin.H{"Error": msg, "Reason": reason})
}

// GET /mylist
func (lc *LoanController) MyList(c *gin.Context) {
	view := lc.Workflow.MyList(app.BackendOf(c), app.ActorOf(c))
	defer view.Close()

	snap, err := view.Refresh(c.Request.Context())
	data := gin.H{"Title": "My list", "List": snap}
	if err != nil {
		if errors.Is(err, workflow.ErrStale) {
			c.Abort()
			return
		}
		data["Error"] = lc.userError(c, err, "Could not load your list")
		lc.render(c, statusOf(err), "mylist", data)
		return
	}
	lc.render(c, http.StatusOK, "mylist", data)
}

// formConfirmer 确认结果来自表单字段 confirm=yes
func formConfirmer(c *gin.Context) workflow.Confirmer {
	yes := c.PostForm("confirm") == "yes"
	return workflow.ConfirmFunc(func(context.Context, workflow.Prompt) bool { return yes })
}

// confirmPage 渲染二次确认页；取消和归还共用
func (lc *LoanController) confirmPage(c *gin.Context, kind workflow.PromptKind) {
	id, ok := pathID(c)
	if !ok {
		lc.notFound(c, "Transaction")
		return
	}
	view := lc.Workflow.MyList(app.BackendOf(c), app.ActorOf(c))
	defer view.Close()
	snap, err := view.Refresh(c.Request.Context())
	if err != nil {
		lc.flash(c, session.FlashError, lc.userError(c, err, "Could not load your list"))
		lc.redirect(c, "/mylist")
		return
	}

	list, sentinel, action := snap.Pending, workflow.ErrNotCancellable, "cancel"
	if kind == workflow.PromptReturn {
		list, sentinel, action = snap.Active, workflow.ErrNotReturnable, "return"
	}
	var tx *backend.Transaction
	for i := range list {
		if list[i].ID == id {
			tx = &list[i]
		}
	}
	if tx == nil {
		lc.flash(c, session.FlashError, sentinel.Error())
		lc.redirect(c, "/mylist")
		return
	}
	lc.render(c, http.StatusOK, "confirm", gin.H{
		"Title":       "Please confirm",
		"Prompt":      workflow.Prompt{Kind: kind, Transaction: *tx}.Text(),
		"Action":      "/mylist/" + c.Param("id") + "/" + action,
		"Back":        "/mylist",
		"Transaction": tx,
	})
}

func (lc *LoanController) CancelConfirm(c *gin.Context) { lc.confirmPage(c, workflow.PromptCancel) }
func (lc *LoanController) ReturnConfirm(c *gin.Context) { lc.confirmPage(c, workflow.PromptReturn) }

// POST /mylist/:id/cancel
func (lc *LoanController) Cancel(c *gin.Context) {
	lc.mutate(c, "Your request has been cancelled.", "Could not cancel the request",
		func(ctx context.Context, v *workflow.MyList, id int64) error { return v.Cancel(ctx, id, formConfirmer(c)) })
}

// POST /mylist/:id/return
func (lc *LoanController) Return(c *gin.Context) {
	lc.mutate(c, "The item has been returned.", "Could not return the item",
		func(ctx context.Context, v *workflow.MyList, id int64) error { return v.Return(ctx, id, formConfirmer(c)) })
}

// mutate 变更操作的公共流程：成功和失败都回到 /mylist 并带一条提示
func (lc *LoanController) mutate(c *gin.Context, okMsg, failMsg string, op func(context.Context, *workflow.MyList, int64) error) {
	id, ok := pathID(c)
	if !ok {
		lc.notFound(c, "Transaction")
		return
	}
	view := lc.Workflow.MyList(app.BackendOf(c), app.ActorOf(c))
	defer view.Close()

	err := op(c.Request.Context(), view, id)
	switch {
	case err == nil:
		lc.flash(c, session.FlashInfo, okMsg)
	case errors.Is(err, workflow.ErrDeclined):
	default:
		lc.flash(c, session.FlashError, lc.userError(c, err, failMsg))
	}
	lc.redirect(c, "/mylist")
}
