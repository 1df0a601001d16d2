package workflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lending_portal/backend"
	"lending_portal/backend/backendtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type memJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func (j *memJournal) Record(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) all() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}

func answer(approve, reject bool) Confirmer {
	return ConfirmFunc(func(_ context.Context, p Prompt) bool {
		switch p.Kind {
		case PromptApprove:
			return approve
		case PromptReject:
			return reject
		}
		return true
	})
}

var never Confirmer = ConfirmFunc(func(context.Context, Prompt) bool { return false })

type WorkflowSuite struct {
	suite.Suite
	srv     *backendtest.Server
	client  *backend.Client
	journal *memJournal
	wf      *Workflow

	user, other, admin backend.User
	item               backend.Item
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.srv = backendtest.New()
	c, err := backend.New(s.srv.URL, zap.NewNop())
	s.Require().NoError(err)
	s.client = c
	s.journal = &memJournal{}
	s.wf = New(zap.NewNop(), WithJournal(s.journal))

	s.user = s.srv.AddUser("Bob", "bob@example.com", "pw", false)
	s.other = s.srv.AddUser("Eve", "eve@example.com", "pw", false)
	s.admin = s.srv.AddUser("Root", "root@example.com", "pw", true)
	s.item = s.srv.AddItem("GoPro", nil)
}

func (s *WorkflowSuite) TearDownTest() {
	s.srv.Close()
}

func (s *WorkflowSuite) session(u backend.User) *backend.Session {
	return s.client.Session(s.srv.Token(u.ID))
}

func actorOf(u backend.User) Actor { return Actor{UserID: u.ID, IsAdmin: u.IsAdmin} }

func (s *WorkflowSuite) borrow(u backend.User) backend.Transaction {
	tx, err := s.wf.RequestBorrow(context.Background(), s.session(u), actorOf(u), s.item.ID, "project demo")
	s.Require().NoError(err)
	return *tx
}

func (s *WorkflowSuite) approve(tx backend.Transaction) {
	q, err := s.wf.AdminQueue(s.session(s.admin), actorOf(s.admin))
	s.Require().NoError(err)
	d, err := q.Decide(context.Background(), tx.ID, AlwaysConfirm)
	s.Require().NoError(err)
	s.Require().Equal(backend.StatusApproved, d)
}

func (s *WorkflowSuite) TestEmptyReasonMakesNoCall() {
	for _, reason := range []string{"", "   ", "\t\n"} {
		before := s.srv.Requests()
		_, err := s.wf.RequestBorrow(context.Background(), s.session(s.user), actorOf(s.user), s.item.ID, reason)

		var ve *backend.ValidationError
		s.Require().ErrorAs(err, &ve)
		s.ErrorIs(err, ErrEmptyReason)
		s.Equal("reason", ve.Field)
		s.Equal(before, s.srv.Requests())
	}
	s.Empty(s.journal.all())
}

func (s *WorkflowSuite) TestRequestBorrowCreatesPendingRequest() {
	tx := s.borrow(s.user)
	s.Equal(backend.StatusRequest, tx.Status)
	s.Equal(s.user.ID, tx.UserID)
	s.Equal("project demo", tx.ReasonText())

	it, _ := s.srv.Item(s.item.ID)
	s.False(it.IsAvailable)

	entries := s.journal.all()
	s.Require().Len(entries, 1)
	s.Equal(Entry{ActorID: s.user.ID, Action: ActionBorrow, TransactionID: tx.ID, ItemID: s.item.ID, OK: true}, entries[0])
}

func (s *WorkflowSuite) TestBorrowUnavailableIsRemoteError() {
	s.borrow(s.user)
	_, err := s.wf.RequestBorrow(context.Background(), s.session(s.other), actorOf(s.other), s.item.ID, "me too")

	var re *backend.RemoteError
	s.Require().ErrorAs(err, &re)
	s.Equal("item is currently unavailable", re.Detail)
	s.Equal("item is currently unavailable", backend.UserMessage(err, "could not send the request"))

	entries := s.journal.all()
	s.Require().Len(entries, 2)
	s.False(entries[1].OK)
}

func (s *WorkflowSuite) TestConcurrentBorrowExactlyOneWins() {
	users := []backend.User{s.user, s.other}
	errs := make([]error, len(users))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = s.wf.RequestBorrow(context.Background(), s.session(u), actorOf(u), s.item.ID, "race")
		}()
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var re *backend.RemoteError
		s.ErrorAs(err, &re)
	}
	s.Equal(1, wins)

	pending, err := s.wf.ListPending(context.Background(), s.session(s.admin), actorOf(s.admin))
	s.Require().NoError(err)
	s.Len(pending, 1)
}

func (s *WorkflowSuite) TestScenarioBorrowApproveReturn() {
	ctx := context.Background()
	tx := s.borrow(s.user)

	s.approve(tx)
	it, _ := s.srv.Item(s.item.ID)
	s.False(it.IsAvailable)

	mine := s.wf.MyList(s.session(s.user), actorOf(s.user))
	snap, err := mine.Refresh(ctx)
	s.Require().NoError(err)
	s.Require().Len(snap.Active, 1)
	s.Empty(snap.Pending)

	s.Require().NoError(mine.Return(ctx, tx.ID, AlwaysConfirm))

	it, _ = s.srv.Item(s.item.ID)
	s.True(it.IsAvailable)
	got, _ := s.srv.Transaction(tx.ID)
	s.Equal(backend.StatusReturned, got.Status)

	snap = mine.Snapshot()
	s.Empty(snap.Active)
	s.Require().Len(snap.History, 1)
	s.Equal(tx.ID, snap.History[0].ID)

	approved, err := s.wf.ListMine(ctx, s.session(s.user), actorOf(s.user), backend.StatusApproved)
	s.Require().NoError(err)
	s.Empty(approved)
}

func (s *WorkflowSuite) TestDecideRemovesFromPending() {
	ctx := context.Background()
	tx := s.borrow(s.user)

	q, err := s.wf.AdminQueue(s.session(s.admin), actorOf(s.admin))
	s.Require().NoError(err)
	pending, err := q.Refresh(ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("GoPro", pending[0].ItemName())
	s.Equal("Bob", pending[0].UserName())

	_, err = q.Decide(ctx, tx.ID, AlwaysConfirm)
	s.Require().NoError(err)
	s.Empty(q.Pending())

	again, err := s.wf.ListPending(ctx, s.session(s.admin), actorOf(s.admin))
	s.Require().NoError(err)
	_, found := find(again, tx.ID)
	s.False(found)
}

func (s *WorkflowSuite) TestDecideRejectWhenApproveDeclined() {
	tx := s.borrow(s.user)
	q, err := s.wf.AdminQueue(s.session(s.admin), actorOf(s.admin))
	s.Require().NoError(err)

	d, err := q.Decide(context.Background(), tx.ID, answer(false, true))
	s.Require().NoError(err)
	s.Equal(backend.StatusRejected, d)

	got, _ := s.srv.Transaction(tx.ID)
	s.Equal(backend.StatusRejected, got.Status)
	it, _ := s.srv.Item(s.item.ID)
	s.True(it.IsAvailable)
}

func (s *WorkflowSuite) TestDecideDeclineBothLeavesRequest() {
	tx := s.borrow(s.user)
	q, err := s.wf.AdminQueue(s.session(s.admin), actorOf(s.admin))
	s.Require().NoError(err)
	_, err = q.Refresh(context.Background())
	s.Require().NoError(err)

	before := s.srv.Requests()
	_, err = q.Decide(context.Background(), tx.ID, answer(false, false))
	s.ErrorIs(err, ErrDeclined)
	s.Equal(before, s.srv.Requests())

	got, _ := s.srv.Transaction(tx.ID)
	s.Equal(backend.StatusRequest, got.Status)
	s.Len(q.Pending(), 1)
}

func (s *WorkflowSuite) TestAdminQueueRequiresAdmin() {
	_, err := s.wf.AdminQueue(s.session(s.user), actorOf(s.user))
	s.ErrorIs(err, ErrNotAdmin)

	_, err = s.wf.ListPending(context.Background(), s.session(s.user), actorOf(s.user))
	s.ErrorIs(err, ErrNotAdmin)

	tx := s.borrow(s.user)
	err = s.wf.Decide(context.Background(), s.session(s.user), actorOf(s.user), tx, backend.StatusApproved)
	s.ErrorIs(err, ErrNotAdmin)
}

func (s *WorkflowSuite) TestCancelPendingRequest() {
	ctx := context.Background()
	tx := s.borrow(s.user)
	mine := s.wf.MyList(s.session(s.user), actorOf(s.user))

	s.Require().NoError(mine.Cancel(ctx, tx.ID, AlwaysConfirm))
	s.Empty(mine.Snapshot().Pending)

	got, _ := s.srv.Transaction(tx.ID)
	s.Equal(backend.StatusCancelled, got.Status)
	it, _ := s.srv.Item(s.item.ID)
	s.True(it.IsAvailable)
}

func (s *WorkflowSuite) TestCancelDeclinedMakesNoCall() {
	tx := s.borrow(s.user)
	mine := s.wf.MyList(s.session(s.user), actorOf(s.user))
	_, err := mine.Refresh(context.Background())
	s.Require().NoError(err)

	before := s.srv.Requests()
	s.ErrorIs(mine.Cancel(context.Background(), tx.ID, never), ErrDeclined)
	s.Equal(before, s.srv.Requests())
}

func (s *WorkflowSuite) TestCannotCancelSomeoneElsesRequest() {
	tx := s.borrow(s.user)
	err := s.wf.Cancel(context.Background(), s.session(s.other), actorOf(s.other), tx)
	s.ErrorIs(err, ErrNotCancellable)

	mine := s.wf.MyList(s.session(s.other), actorOf(s.other))
	s.ErrorIs(mine.Cancel(context.Background(), tx.ID, AlwaysConfirm), ErrNotCancellable)
}

func (s *WorkflowSuite) TestCancelFailureLeavesState() {
	ctx := context.Background()
	tx := s.borrow(s.user)
	mine := s.wf.MyList(s.session(s.user), actorOf(s.user))
	_, err := mine.Refresh(ctx)
	s.Require().NoError(err)

	s.srv.FailNext(http.MethodPost, "/cancel/", http.StatusInternalServerError, "")
	err = mine.Cancel(ctx, tx.ID, AlwaysConfirm)
	s.Equal("remote", backend.Classify(err))
	s.Equal("could not cancel the request", backend.UserMessage(err, "could not cancel the request"))

	s.Len(mine.Snapshot().Pending, 1)
	got, _ := s.srv.Transaction(tx.ID)
	s.Equal(backend.StatusRequest, got.Status)
}

func (s *WorkflowSuite) TestReturnFailureKeepsRental() {
	ctx := context.Background()
	tx := s.borrow(s.user)
	s.approve(tx)
	mine := s.wf.MyList(s.session(s.user), actorOf(s.user))
	_, err := mine.Refresh(ctx)
	s.Require().NoError(err)

	s.srv.FailNext(http.MethodPost, "/return/", http.StatusBadGateway, "")
	s.Error(mine.Return(ctx, tx.ID, AlwaysConfirm))
	s.Len(mine.Snapshot().Active, 1)
}

func (s *WorkflowSuite) TestRefreshFailureAfterMutationKeepsSnapshot() {
	ctx := context.Background()
	tx := s.borrow(s.user)
	s.approve(tx)
	mine := s.wf.MyList(s.session(s.user), actorOf(s.user))
	before, err := mine.Refresh(ctx)
	s.Require().NoError(err)

	s.srv.FailNext(http.MethodGet, "/transactions/", http.StatusInternalServerError, "")
	s.Require().NoError(mine.Return(ctx, tx.ID, AlwaysConfirm))

	after := mine.Snapshot()
	s.Equal(before.Generation, after.Generation)
	s.Empty(after.Active)
	s.Empty(after.History)
}

func (s *WorkflowSuite) TestTerminalStatesAreFinal() {
	ctx := context.Background()
	b := s.session(s.user)
	a := actorOf(s.user)
	for _, st := range []backend.Status{backend.StatusReturned, backend.StatusRejected, backend.StatusCancelled} {
		tx := backend.Transaction{ID: 99, UserID: s.user.ID, ItemID: s.item.ID, Status: st}
		before := s.srv.Requests()
		s.ErrorIs(s.wf.Cancel(ctx, b, a, tx), ErrNotCancellable, st)
		s.ErrorIs(s.wf.Return(ctx, b, a, tx), ErrNotReturnable, st)
		s.ErrorIs(s.wf.Decide(ctx, s.session(s.admin), actorOf(s.admin), tx, backend.StatusApproved), ErrNotPending, st)
		s.Equal(before, s.srv.Requests())
	}
}

func (s *WorkflowSuite) TestReturnedLoanCannotBeReturnedTwice() {
	ctx := context.Background()
	tx := s.borrow(s.user)
	s.approve(tx)
	mine := s.wf.MyList(s.session(s.user), actorOf(s.user))
	s.Require().NoError(mine.Return(ctx, tx.ID, AlwaysConfirm))
	s.ErrorIs(mine.Return(ctx, tx.ID, AlwaysConfirm), ErrNotReturnable)
	s.ErrorIs(mine.Cancel(ctx, tx.ID, AlwaysConfirm), ErrNotCancellable)
}

func TestDecideRejectsBadDecision(t *testing.T) {
	wf := New(nil)
	tx := backend.Transaction{ID: 1, Status: backend.StatusRequest}
	err := wf.Decide(context.Background(), nil, Actor{UserID: 1, IsAdmin: true}, tx, backend.StatusReturned)
	assert.ErrorIs(t, err, ErrBadDecision)
}

// gatedBackend blocks ReturnTransaction until released.
type gatedBackend struct {
	Backend
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) ReturnTransaction(ctx context.Context, id int64) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Backend.ReturnTransaction(ctx, id)
}

func (s *WorkflowSuite) TestDoubleSubmitIsRefusedWhileInFlight() {
	ctx := context.Background()
	tx := s.borrow(s.user)
	s.approve(tx)
	tx, _ = s.srv.Transaction(tx.ID)

	g := &gatedBackend{Backend: s.session(s.user), entered: make(chan struct{}), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- s.wf.Return(ctx, g, actorOf(s.user), tx) }()
	<-g.entered

	err := s.wf.Return(ctx, g, actorOf(s.user), tx)
	s.ErrorIs(err, ErrInFlight)
	var ve *backend.ValidationError
	s.ErrorAs(err, &ve)

	close(g.release)
	s.NoError(<-done)

	// released after completion
	_, ok, err := s.wf.inflight.Acquire(ctx, txKey(actorOf(s.user), tx.ID))
	s.NoError(err)
	s.True(ok)
}

// slowList holds the first "request" list call until gate closes.
type slowList struct {
	Backend
	hold    atomic.Bool
	entered chan struct{}
	gate    chan struct{}
}

func (s *slowList) ListTransactions(ctx context.Context, f backend.TransactionFilter) ([]backend.Transaction, error) {
	if f.Status == backend.StatusRequest && s.hold.CompareAndSwap(true, false) {
		s.entered <- struct{}{}
		<-s.gate
	}
	return s.Backend.ListTransactions(ctx, f)
}

func (s *WorkflowSuite) TestNewerRefreshWins() {
	ctx := context.Background()
	sl := &slowList{Backend: s.session(s.user), entered: make(chan struct{}), gate: make(chan struct{})}
	sl.hold.Store(true)
	mine := s.wf.MyList(sl, actorOf(s.user))

	first := make(chan error, 1)
	go func() {
		_, err := mine.Refresh(ctx)
		first <- err
	}()
	<-sl.entered

	s.borrow(s.user)
	snap, err := mine.Refresh(ctx)
	s.Require().NoError(err)
	s.Len(snap.Pending, 1)

	close(sl.gate)
	s.ErrorIs(<-first, ErrStale)
	s.Equal(snap.Generation, mine.Snapshot().Generation)
	s.Len(mine.Snapshot().Pending, 1)
}

func (s *WorkflowSuite) TestClosedViewDiscardsLateResponse() {
	sl := &slowList{Backend: s.session(s.user), entered: make(chan struct{}), gate: make(chan struct{})}
	sl.hold.Store(true)
	mine := s.wf.MyList(sl, actorOf(s.user))

	done := make(chan error, 1)
	go func() {
		_, err := mine.Refresh(context.Background())
		done <- err
	}()
	<-sl.entered
	mine.Close()
	close(sl.gate)

	select {
	case err := <-done:
		s.ErrorIs(err, ErrStale)
	case <-time.After(2 * time.Second):
		s.Fail("refresh did not finish")
	}
	s.False(mine.Snapshot().Loaded)

	_, err := mine.Refresh(context.Background())
	s.ErrorIs(err, ErrStale)
}

// bareList returns pending requests without the embedded item/user.
type bareList struct{ Backend }

func (b bareList) ListTransactions(ctx context.Context, f backend.TransactionFilter) ([]backend.Transaction, error) {
	txs, err := b.Backend.ListTransactions(ctx, f)
	for i := range txs {
		txs[i].Item, txs[i].User = nil, nil
	}
	return txs, err
}

func (s *WorkflowSuite) TestListPendingFetchesMissingItemAndUser() {
	s.borrow(s.user)
	txs, err := s.wf.ListPending(context.Background(), bareList{s.session(s.admin)}, actorOf(s.admin))
	s.Require().NoError(err)
	s.Require().Len(txs, 1)
	s.Equal("GoPro", txs[0].ItemName())
	s.Equal("Bob", txs[0].UserName())
}

func TestMemoryInFlight(t *testing.T) {
	m := NewMemoryInFlight()
	ctx := context.Background()
	a, ok, err := m.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, _ = m.Acquire(ctx, "k")
	assert.False(t, ok)

	// 别人的 token 释放不了
	require.NoError(t, m.Release(ctx, "k", "other"))
	_, ok, _ = m.Acquire(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, m.Release(ctx, "k", a))
	_, ok, _ = m.Acquire(ctx, "k")
	assert.True(t, ok)
}

func TestPromptText(t *testing.T) {
	tx := backend.Transaction{ItemID: 5, Item: &backend.Item{Name: "Tripod"}}
	assert.Equal(t, "Approve the request for Tripod?", Prompt{Kind: PromptApprove, Transaction: tx}.Text())
	assert.Equal(t, "Return item #5?", Prompt{Kind: PromptReturn, Transaction: backend.Transaction{ItemID: 5}}.Text())
}

func TestRejectWrapsSentinel(t *testing.T) {
	err := reject("reason", ErrEmptyReason)
	assert.True(t, errors.Is(err, ErrEmptyReason))
	assert.Equal(t, "validation", backend.Classify(err))
	assert.Equal(t, ErrEmptyReason.Error(), backend.UserMessage(err, "x"))
}
