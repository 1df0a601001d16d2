package workflow

import (
	"context"
	"fmt"

	"lending_portal/backend"
)

type PromptKind int

const (
	PromptCancel PromptKind = iota
	PromptReturn
	PromptApprove
	PromptReject
)

// Prompt is one confirmation question about a transaction.
type Prompt struct {
	Kind        PromptKind
	Transaction backend.Transaction
}

func (p Prompt) Text() string {
	name := p.Transaction.ItemName()
	if name == "" {
		name = fmt.Sprintf("item #%d", p.Transaction.ItemID)
	}
	switch p.Kind {
	case PromptCancel:
		return fmt.Sprintf("Cancel your request for %s?", name)
	case PromptReturn:
		return fmt.Sprintf("Return %s?", name)
	case PromptApprove:
		return fmt.Sprintf("Approve the request for %s?", name)
	default:
		return fmt.Sprintf("Reject the request for %s?", name)
	}
}

// Confirmer answers interactive confirmations. A false answer aborts the
// action before any backend call.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) bool
}

type ConfirmFunc func(ctx context.Context, p Prompt) bool

func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) bool { return f(ctx, p) }

// AlwaysConfirm answers yes to everything.
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, Prompt) bool { return true })
