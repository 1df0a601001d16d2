package workflow

import (
	"errors"

	"lending_portal/backend"
)

var (
	ErrEmptyReason    = errors.New("please enter a reason for borrowing")
	ErrNoUser         = errors.New("your session has no user, please sign in again")
	ErrNotAdmin       = errors.New("administrator privileges are required")
	ErrNotCancellable = errors.New("only your own pending requests can be cancelled")
	ErrNotReturnable  = errors.New("only items you currently have on loan can be returned")
	ErrNotPending     = errors.New("this request is no longer awaiting a decision")
	ErrBadDecision    = errors.New("a decision must be approve or reject")
	ErrInFlight       = errors.New("this action is already in progress")

	// ErrDeclined 用户在确认对话框里取消，不算失败
	ErrDeclined = errors.New("declined")
	// ErrStale 结果属于已关闭或已被新请求取代的视图，直接丢弃
	ErrStale = errors.New("stale response discarded")
)

// reject wraps a rule violation as a local validation error. errors.Is still
// matches the sentinel.
func reject(field string, sentinel error) error {
	return &backend.ValidationError{Field: field, Message: sentinel.Error(), Err: sentinel}
}
