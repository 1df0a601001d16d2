package workflow

import (
	"context"
	"errors"
	"sync"

	"lending_portal/backend"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// view carries the generation counter shared by MyList and AdminQueue.
// Each fetch takes a generation; only the newest fetch of an open view may
// store its result.
type view struct {
	mu     sync.Mutex
	gen    uint64
	closed bool
}

func (v *view) begin() (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, ErrStale
	}
	v.gen++
	return v.gen, nil
}

// current must be called with mu held.
func (v *view) current(ctx context.Context, gen uint64) bool {
	return !v.closed && gen == v.gen && ctx.Err() == nil
}

// Close discards every fetch still in flight.
func (v *view) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
}

func without(txs []backend.Transaction, id int64) []backend.Transaction {
	out := make([]backend.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func find(txs []backend.Transaction, id int64) (backend.Transaction, bool) {
	for _, t := range txs {
		if t.ID == id {
			return t, true
		}
	}
	return backend.Transaction{}, false
}

// Snapshot is the "my list" page: pending requests, current loans and history.
type Snapshot struct {
	Pending    []backend.Transaction
	Active     []backend.Transaction
	History    []backend.Transaction
	Generation uint64
	Loaded     bool
}

// MyList is the actor's own lists. Every mutation is followed by a full
// re-fetch; nothing is cached beyond the last snapshot.
type MyList struct {
	view
	wf    *Workflow
	b     Backend
	actor Actor
	snap  Snapshot
}

func (w *Workflow) MyList(b Backend, a Actor) *MyList {
	return &MyList{wf: w, b: b, actor: a}
}

// Refresh fetches the three lists. A result that lost the race against a
// newer Refresh or a Close is dropped with ErrStale.
func (v *MyList) Refresh(ctx context.Context) (Snapshot, error) {
	gen, err := v.begin()
	if err != nil {
		return Snapshot{}, err
	}

	statuses := []backend.Status{backend.StatusRequest, backend.StatusApproved, backend.StatusReturned}
	lists := make([][]backend.Transaction, len(statuses))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range statuses {
		g.Go(func() error {
			l, err := v.wf.ListMine(gctx, v.b, v.actor, st)
			if err != nil {
				return err
			}
			lists[i] = l
			return nil
		})
	}
	err = g.Wait()

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.current(ctx, gen) {
		return v.snap, ErrStale
	}
	if err != nil {
		return v.snap, err
	}
	v.snap = Snapshot{Pending: lists[0], Active: lists[1], History: lists[2], Generation: gen, Loaded: true}
	return v.snap, nil
}

func (v *MyList) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

func (v *MyList) ensureLoaded(ctx context.Context) error {
	if v.Snapshot().Loaded {
		return nil
	}
	_, err := v.Refresh(ctx)
	return err
}

// refreshAfter re-fetches after a successful mutation. Failures only log.
func (v *MyList) refreshAfter(ctx context.Context, action string) {
	if _, err := v.Refresh(ctx); err != nil && !errors.Is(err, ErrStale) {
		v.wf.logger.Warn("refresh after mutation failed",
			zap.String("action", action), zap.Int64("user_id", v.actor.UserID), zap.Error(err))
	}
}

// Cancel asks for confirmation, then cancels one of the pending requests.
func (v *MyList) Cancel(ctx context.Context, txID int64, c Confirmer) error {
	if err := v.ensureLoaded(ctx); err != nil {
		return err
	}
	tx, ok := find(v.Snapshot().Pending, txID)
	if !ok {
		return reject("transaction", ErrNotCancellable)
	}
	if !c.Confirm(ctx, Prompt{Kind: PromptCancel, Transaction: tx}) {
		return ErrDeclined
	}
	if err := v.wf.Cancel(ctx, v.b, v.actor, tx); err != nil {
		return err
	}
	v.refreshAfter(ctx, ActionCancel)
	return nil
}

// Return asks for confirmation, then returns one of the current loans. The
// loan leaves the local list only once the backend confirmed the return.
func (v *MyList) Return(ctx context.Context, txID int64, c Confirmer) error {
	if err := v.ensureLoaded(ctx); err != nil {
		return err
	}
	tx, ok := find(v.Snapshot().Active, txID)
	if !ok {
		return reject("transaction", ErrNotReturnable)
	}
	if !c.Confirm(ctx, Prompt{Kind: PromptReturn, Transaction: tx}) {
		return ErrDeclined
	}
	if err := v.wf.Return(ctx, v.b, v.actor, tx); err != nil {
		return err
	}
	v.mu.Lock()
	v.snap.Active = without(v.snap.Active, txID)
	v.mu.Unlock()
	v.refreshAfter(ctx, ActionReturn)
	return nil
}

// Find looks txID up in the current snapshot.
func (v *MyList) Find(txID int64) (backend.Transaction, bool) {
	s := v.Snapshot()
	for _, l := range [][]backend.Transaction{s.Pending, s.Active, s.History} {
		if t, ok := find(l, txID); ok {
			return t, true
		}
	}
	return backend.Transaction{}, false
}

// AdminQueue is the admin's list of requests awaiting a decision.
type AdminQueue struct {
	view
	wf      *Workflow
	b       Backend
	actor   Actor
	pending []backend.Transaction
	loaded  bool
}

func (w *Workflow) AdminQueue(b Backend, a Actor) (*AdminQueue, error) {
	if !a.IsAdmin {
		return nil, reject("", ErrNotAdmin)
	}
	return &AdminQueue{wf: w, b: b, actor: a}, nil
}

func (q *AdminQueue) Refresh(ctx context.Context) ([]backend.Transaction, error) {
	gen, err := q.begin()
	if err != nil {
		return nil, err
	}
	txs, err := q.wf.ListPending(ctx, q.b, q.actor)

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.current(ctx, gen) {
		return q.pending, ErrStale
	}
	if err != nil {
		return q.pending, err
	}
	q.pending, q.loaded = txs, true
	return q.pending, nil
}

func (q *AdminQueue) Pending() []backend.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Find looks txID up in the current queue.
func (q *AdminQueue) Find(txID int64) (backend.Transaction, bool) {
	return find(q.Pending(), txID)
}

// Decide offers approval first and rejection second. Declining both leaves
// the request untouched and returns ErrDeclined.
func (q *AdminQueue) Decide(ctx context.Context, txID int64, c Confirmer) (backend.Decision, error) {
	q.mu.Lock()
	loaded := q.loaded
	q.mu.Unlock()
	if !loaded {
		if _, err := q.Refresh(ctx); err != nil {
			return "", err
		}
	}
	tx, ok := q.Find(txID)
	if !ok {
		return "", reject("transaction", ErrNotPending)
	}

	var decision backend.Decision
	switch {
	case c.Confirm(ctx, Prompt{Kind: PromptApprove, Transaction: tx}):
		decision = backend.StatusApproved
	case c.Confirm(ctx, Prompt{Kind: PromptReject, Transaction: tx}):
		decision = backend.StatusRejected
	default:
		return "", ErrDeclined
	}

	if err := q.wf.Decide(ctx, q.b, q.actor, tx, decision); err != nil {
		return "", err
	}
	q.mu.Lock()
	q.pending = without(q.pending, txID)
	q.mu.Unlock()
	if _, err := q.Refresh(ctx); err != nil && !errors.Is(err, ErrStale) {
		q.wf.logger.Warn("refresh after mutation failed",
			zap.String("action", string(decision)), zap.Int64("transaction_id", txID), zap.Error(err))
	}
	return decision, nil
}
