package workflow

import "context"

const (
	ActionBorrow  = "borrow"
	ActionCancel  = "cancel"
	ActionReturn  = "return"
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Entry is one mutation attempt.
type Entry struct {
	ActorID       int64
	Action        string
	TransactionID int64
	ItemID        int64
	OK            bool
	Detail        string
}

// Journal records mutations. A failing journal never fails the mutation.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, Entry) error { return nil }
