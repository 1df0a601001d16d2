// Package workflow drives the borrow lifecycle against the lending backend:
// borrow requests, the caller's own lists, cancel and return, and the admin
// decision queue.
//
// Nothing here reads ambient state. The caller passes the backend session
// and the Actor explicitly on every call.
package workflow

import (
	"context"
	"strings"

	"lending_portal/backend"

	"go.uber.org/zap"
)

const TypeBorrow = "borrow"

// Actor is the caller of an operation. UserID pre-fills requests; IsAdmin
// comes from the resolved identity, never from stored state.
type Actor struct {
	UserID  int64
	IsAdmin bool
}

// Backend is the part of *backend.Session the workflow needs.
type Backend interface {
	CreateTransaction(ctx context.Context, in backend.NewTransaction) (*backend.Transaction, error)
	ListTransactions(ctx context.Context, f backend.TransactionFilter) ([]backend.Transaction, error)
	DecideTransaction(ctx context.Context, id int64, decision backend.Decision) (*backend.Transaction, error)
	CancelTransaction(ctx context.Context, id int64) error
	ReturnTransaction(ctx context.Context, id int64) error
	GetItem(ctx context.Context, id int64) (*backend.Item, error)
	GetUser(ctx context.Context, id int64) (*backend.User, error)
}

type Workflow struct {
	inflight InFlight
	journal  Journal
	logger   *zap.Logger
}

type Option func(*Workflow)

func WithInFlight(f InFlight) Option {
	return func(w *Workflow) {
		if f != nil {
			w.inflight = f
		}
	}
}

func WithJournal(j Journal) Option {
	return func(w *Workflow) {
		if j != nil {
			w.journal = j
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workflow{
		inflight: NewMemoryInFlight(),
		journal:  nopJournal{},
		logger:   logger.Named("workflow"),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// hold claims key for the duration of one mutation.
func (w *Workflow) hold(ctx context.Context, key string) (func(), error) {
	token, ok, err := w.inflight.Acquire(ctx, key)
	if err != nil {
		return nil, &backend.UnexpectedError{Op: "acquire " + key, Err: err}
	}
	if !ok {
		return nil, reject("", ErrInFlight)
	}
	return func() {
		if err := w.inflight.Release(context.WithoutCancel(ctx), key, token); err != nil {
			w.logger.Warn("release in-flight key", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (w *Workflow) record(ctx context.Context, e Entry, err error) {
	e.OK = err == nil
	if err != nil {
		e.Detail = err.Error()
	}
	if jerr := w.journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		w.logger.Warn("journal write failed", zap.String("action", e.Action), zap.Error(jerr))
	}
}

// RequestBorrow creates a pending request for itemID. An empty reason fails
// before anything is sent. A backend refusal (item taken in the meantime) is
// returned as is, without retry.
func (w *Workflow) RequestBorrow(ctx context.Context, b Backend, a Actor, itemID int64, reason string) (*backend.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, reject("reason", ErrEmptyReason)
	}
	if a.UserID == 0 {
		return nil, reject("user_id", ErrNoUser)
	}
	release, err := w.hold(ctx, borrowKey(a, itemID))
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := b.CreateTransaction(ctx, backend.NewTransaction{
		UserID: a.UserID,
		ItemID: itemID,
		Type:   TypeBorrow,
		Reason: reason,
		Status: backend.StatusRequest,
	})
	e := Entry{ActorID: a.UserID, Action: ActionBorrow, ItemID: itemID}
	if tx != nil {
		e.TransactionID = tx.ID
	}
	w.record(ctx, e, err)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListMine returns the actor's transactions in status.
func (w *Workflow) ListMine(ctx context.Context, b Backend, a Actor, status backend.Status) ([]backend.Transaction, error) {
	if a.UserID == 0 {
		return nil, reject("user_id", ErrNoUser)
	}
	return b.ListTransactions(ctx, backend.TransactionFilter{UserID: a.UserID, Status: status})
}

// ListPending returns every pending request with its item and user attached.
func (w *Workflow) ListPending(ctx context.Context, b Backend, a Actor) ([]backend.Transaction, error) {
	if !a.IsAdmin {
		return nil, reject("", ErrNotAdmin)
	}
	txs, err := b.ListTransactions(ctx, backend.TransactionFilter{Status: backend.StatusRequest})
	if err != nil {
		return nil, err
	}
	w.enrich(ctx, b, txs)
	return txs, nil
}

// enrich fills Item/User where the list response left them out.
// A failed lookup leaves the field nil; the row still shows.
func (w *Workflow) enrich(ctx context.Context, b Backend, txs []backend.Transaction) {
	items := map[int64]*backend.Item{}
	users := map[int64]*backend.User{}
	for i := range txs {
		t := &txs[i]
		if t.Item == nil {
			it, ok := items[t.ItemID]
			if !ok {
				var err error
				if it, err = b.GetItem(ctx, t.ItemID); err != nil {
					w.logger.Warn("load item for pending request", zap.Int64("item_id", t.ItemID), zap.Error(err))
				}
				items[t.ItemID] = it
			}
			t.Item = it
		}
		if t.User == nil {
			u, ok := users[t.UserID]
			if !ok {
				var err error
				if u, err = b.GetUser(ctx, t.UserID); err != nil {
					w.logger.Warn("load user for pending request", zap.Int64("user_id", t.UserID), zap.Error(err))
				}
				users[t.UserID] = u
			}
			t.User = u
		}
	}
}

// Cancel withdraws the actor's own pending request.
func (w *Workflow) Cancel(ctx context.Context, b Backend, a Actor, tx backend.Transaction) error {
	if tx.UserID != a.UserID || !tx.Status.CanCancel() {
		return reject("transaction", ErrNotCancellable)
	}
	release, err := w.hold(ctx, txKey(a, tx.ID))
	if err != nil {
		return err
	}
	defer release()

	err = b.CancelTransaction(ctx, tx.ID)
	w.record(ctx, Entry{ActorID: a.UserID, Action: ActionCancel, TransactionID: tx.ID, ItemID: tx.ItemID}, err)
	return err
}

// Return hands back an item on loan. The borrower returns their own loans;
// an admin may return any loan.
func (w *Workflow) Return(ctx context.Context, b Backend, a Actor, tx backend.Transaction) error {
	if (tx.UserID != a.UserID && !a.IsAdmin) || !tx.Status.CanReturn() {
		return reject("transaction", ErrNotReturnable)
	}
	release, err := w.hold(ctx, txKey(a, tx.ID))
	if err != nil {
		return err
	}
	defer release()

	err = b.ReturnTransaction(ctx, tx.ID)
	w.record(ctx, Entry{ActorID: a.UserID, Action: ActionReturn, TransactionID: tx.ID, ItemID: tx.ItemID}, err)
	return err
}

// Decide approves or rejects one pending request.
func (w *Workflow) Decide(ctx context.Context, b Backend, a Actor, tx backend.Transaction, decision backend.Decision) error {
	if !a.IsAdmin {
		return reject("", ErrNotAdmin)
	}
	action := ActionApprove
	switch decision {
	case backend.StatusApproved:
	case backend.StatusRejected:
		action = ActionReject
	default:
		return reject("status", ErrBadDecision)
	}
	if !tx.Status.CanDecide() {
		return reject("transaction", ErrNotPending)
	}
	release, err := w.hold(ctx, txKey(a, tx.ID))
	if err != nil {
		return err
	}
	defer release()

	_, err = b.DecideTransaction(ctx, tx.ID, decision)
	w.record(ctx, Entry{ActorID: a.UserID, Action: action, TransactionID: tx.ID, ItemID: tx.ItemID}, err)
	return err
}
