package controllers

import (
	"context"
	"errors"
	"net/http"

	"lending_portal/app"
	"lending_portal/backend"
	"lending_portal/db"
	"lending_portal/session"
	"lending_portal/workflow"

	"github.com/gin-gonic/gin"
)

type AdminController struct{ *Srv }

func NewAdminController(s *Srv) *AdminController { return &AdminController{Srv: s} }

func (ac *AdminController) queue(c *gin.Context) (*workflow.AdminQueue, error) {
	return ac.Workflow.AdminQueue(app.BackendOf(c), app.ActorOf(c))
}

// GET /admin：各管理入口 + 待审批列表
func (ac *AdminController) Dashboard(c *gin.Context) {
	data := gin.H{"Title": "Admin", "Pending": []backend.Transaction{}, "JournalEnabled": ac.Repo != nil}
	q, err := ac.queue(c)
	if err == nil {
		defer q.Close()
		var pending []backend.Transaction
		if pending, err = q.Refresh(c.Request.Context()); err == nil {
			data["Pending"] = pending
		}
	}
	if err != nil {
		data["Error"] = ac.userError(c, err, "Could not load pending requests")
		ac.render(c, statusOf(err), "admin", data)
		return
	}
	ac.render(c, http.StatusOK, "admin", data)
}

// GET /admin/requests/:id：审批对话框
func (ac *AdminController) DecideDialog(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		ac.notFound(c, "Request")
		return
	}
	q, err := ac.queue(c)
	if err != nil {
		ac.flash(c, session.FlashError, ac.userError(c, err, "Could not load the request"))
		ac.redirect(c, "/admin")
		return
	}
	defer q.Close()
	if _, err := q.Refresh(c.Request.Context()); err != nil {
		ac.flash(c, session.FlashError, ac.userError(c, err, "Could not load the request"))
		ac.redirect(c, "/admin")
		return
	}
	tx, ok := q.Find(id)
	if !ok {
		ac.flash(c, session.FlashError, workflow.ErrNotPending.Error())
		ac.redirect(c, "/admin")
		return
	}
	ac.render(c, http.StatusOK, "admin_decide", gin.H{
		"Title":         "Review request",
		"Transaction":   tx,
		"ApprovePrompt": workflow.Prompt{Kind: workflow.PromptApprove, Transaction: tx}.Text(),
		"RejectPrompt":  workflow.Prompt{Kind: workflow.PromptReject, Transaction: tx}.Text(),
	})
}

// answerConfirmer answer=approve 通过第一问，answer=reject 通过第二问，其余都拒绝
func answerConfirmer(answer string) workflow.Confirmer {
	return workflow.ConfirmFunc(func(_ context.Context, p workflow.Prompt) bool {
		switch p.Kind {
		case workflow.PromptApprove:
			return answer == "approve"
		case workflow.PromptReject:
			return answer == "reject"
		}
		return false
	})
}

// POST /admin/requests/:id
func (ac *AdminController) Decide(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		ac.notFound(c, "Request")
		return
	}
	q, err := ac.queue(c)
	if err == nil {
		defer q.Close()
		var d backend.Decision
		d, err = q.Decide(c.Request.Context(), id, answerConfirmer(c.PostForm("answer")))
		if err == nil {
			msg := "The request has been approved."
			if d == backend.StatusRejected {
				msg = "The request has been rejected."
			}
			ac.flash(c, session.FlashInfo, msg)
		}
	}
	if err != nil && !errors.Is(err, workflow.ErrDeclined) {
		ac.flash(c, session.FlashError, ac.userError(c, err, "Could not update the request"))
	}
	ac.redirect(c, "/admin")
}

// GET /admin/activity?actor=&action=&page=
func (ac *AdminController) Activity(c *gin.Context) {
	data := gin.H{"Title": "Activity", "Enabled": ac.Repo != nil}
	if ac.Repo == nil {
		ac.render(c, http.StatusOK, "admin_activity", data)
		return
	}
	var q struct {
		ActorID int64  `form:"actor"`
		Action  string `form:"action"`
		Page    int    `form:"page"`
	}
	_ = c.ShouldBindQuery(&q)
	if q.Page < 1 {
		q.Page = 1
	}
	res, err := ac.Repo.ListActions(c.Request.Context(), db.ActionQuery{ActorID: q.ActorID, Action: q.Action, Page: q.Page, Size: 20})
	if err != nil {
		data["Error"] = ac.userError(c, &backend.UnexpectedError{Op: "list actions", Err: err}, "Could not load the activity log")
		ac.render(c, http.StatusInternalServerError, "admin_activity", data)
		return
	}
	pages := int((res.Total + 19) / 20)
	data["Actions"] = res.Actions
	data["Total"] = res.Total
	data["Page"] = q.Page
	data["HasPrev"] = q.Page > 1
	data["HasNext"] = q.Page < pages
	data["Actor"] = q.ActorID
	data["Action"] = q.Action
	ac.render(c, http.StatusOK, "admin_activity", data)
}
