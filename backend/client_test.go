package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lending_portal/backend"
	"lending_portal/backend/backendtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T, url string) *backend.Client {
	t.Helper()
	c, err := backend.New(url, zap.NewNop(), backend.WithTimeout(2*time.Second))
	require.NoError(t, err)
	return c
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := backend.New("/api", zap.NewNop())
	assert.Error(t, err)
}

func TestLoginStoresCookieInJar(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.AddUser("Alice", "alice@example.com", "pw", false)

	sess := newClient(t, srv.URL).Session("")
	res, err := sess.Login(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Alice", res.Name)
	require.NotEmpty(t, sess.Token())

	me, err := sess.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.UserID, me.ID)
	assert.False(t, me.IsAdmin)
}

func TestSessionTokenIsAttachedByTransport(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	u := srv.AddUser("Root", "root@example.com", "pw", true)

	c := newClient(t, srv.URL)
	me, err := c.Session(srv.Token(u.ID)).Me(context.Background())
	require.NoError(t, err)
	assert.True(t, me.IsAdmin)

	_, err = c.Session("").Me(context.Background())
	var re *backend.RemoteError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Unauthorized())
}

func TestRemoteErrorCarriesDetail(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	_, err := newClient(t, srv.URL).Session("").Login(context.Background(), "nobody@example.com", "x")
	var re *backend.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.Status)
	assert.Equal(t, "Invalid credentials", re.Detail)
	assert.Equal(t, "remote", backend.Classify(err))
	assert.Equal(t, "Invalid credentials", backend.UserMessage(err, "login failed"))
}

func TestDetailListShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"msg":"field required"},{"msg":"value is not a valid email"}]}`))
	}))
	defer ts.Close()

	_, err := newClient(t, ts.URL).Session("").Me(context.Background())
	var re *backend.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "field required; value is not a valid email", re.Detail)
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newClient(t, url).Session("").Me(context.Background())
	var ne *backend.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "network", backend.Classify(err))
	assert.Equal(t, "could not load (the server could not be reached)", backend.UserMessage(err, "could not load"))
}

func TestMalformedBodyIsUnexpected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "not-a-number"`))
	}))
	defer ts.Close()

	_, err := newClient(t, ts.URL).Session("").Me(context.Background())
	var ue *backend.UnexpectedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "unexpected", backend.Classify(err))
	assert.Equal(t, "could not load", backend.UserMessage(err, "could not load"))
}

func TestEmptyBodyIsUnexpected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	_, err := newClient(t, ts.URL).Session("").ListItems(context.Background())
	var ue *backend.UnexpectedError
	assert.ErrorAs(t, err, &ue)
}

func TestCanceledContextIsNotNetworkError(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClient(t, srv.URL).Session("").Me(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	var ne *backend.NetworkError
	assert.False(t, errors.As(err, &ne))
}

func TestDecideRejectsUnknownDecisionLocally(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	before := srv.Requests()
	_, err := newClient(t, srv.URL).Session("").DecideTransaction(context.Background(), 1, backend.StatusReturned)
	var ve *backend.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, before, srv.Requests())
}

func TestTransactionLifecycleOverREST(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	user := srv.AddUser("Bob", "bob@example.com", "pw", false)
	admin := srv.AddUser("Root", "root@example.com", "pw", true)
	cat := srv.AddCategory("Cameras")
	item := srv.AddItem("GoPro", &cat.ID)

	c := newClient(t, srv.URL)
	us := c.Session(srv.Token(user.ID))
	as := c.Session(srv.Token(admin.ID))
	ctx := context.Background()

	tx, err := us.CreateTransaction(ctx, backend.NewTransaction{
		UserID: user.ID, ItemID: item.ID, Type: "borrow", Reason: "demo", Status: backend.StatusRequest,
	})
	require.NoError(t, err)
	assert.Equal(t, backend.StatusRequest, tx.Status)

	pending, err := as.ListTransactions(ctx, backend.TransactionFilter{Status: backend.StatusRequest})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "GoPro", pending[0].ItemName())
	assert.Equal(t, "Bob", pending[0].UserName())
	assert.Equal(t, "Cameras", pending[0].Item.CategoryName())

	_, err = us.DecideTransaction(ctx, tx.ID, backend.StatusApproved)
	var re *backend.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusForbidden, re.Status)

	_, err = as.DecideTransaction(ctx, tx.ID, backend.StatusApproved)
	require.NoError(t, err)
	it, err := us.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, it.IsAvailable)

	require.NoError(t, us.ReturnTransaction(ctx, tx.ID))
	it, err = us.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, it.IsAvailable)

	hist, err := us.ListTransactions(ctx, backend.TransactionFilter{UserID: user.ID, Status: backend.StatusReturned})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.NotNil(t, hist[0].ReturnedDate)
}

func TestCancelledStatusIsNull(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	user := srv.AddUser("Bob", "bob@example.com", "pw", false)
	item := srv.AddItem("Tripod", nil)

	us := newClient(t, srv.URL).Session(srv.Token(user.ID))
	ctx := context.Background()
	tx, err := us.CreateTransaction(ctx, backend.NewTransaction{UserID: user.ID, ItemID: item.ID, Type: "borrow", Reason: "x", Status: backend.StatusRequest})
	require.NoError(t, err)
	require.NoError(t, us.CancelTransaction(ctx, tx.ID))

	all, err := us.ListTransactions(ctx, backend.TransactionFilter{UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, backend.StatusCancelled, all[0].Status)
	assert.True(t, all[0].Status.Terminal())

	// a second cancel is refused by the backend
	err = us.CancelTransaction(ctx, tx.ID)
	assert.Equal(t, "remote", backend.Classify(err))
}

func TestForgotAndResetPassword(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	u := srv.AddUser("Carol", "carol@example.com", "old", false)
	s := newClient(t, srv.URL).Session("")
	ctx := context.Background()

	require.NoError(t, s.ForgotPassword(ctx, "carol@example.com"))
	assert.Equal(t, "remote", backend.Classify(s.ForgotPassword(ctx, "nobody@example.com")))

	require.NoError(t, s.ResetPassword(ctx, srv.ResetToken(u.ID), "new"))
	_, err := s.Login(ctx, "carol@example.com", "new")
	assert.NoError(t, err)
}

func TestUpdateUserOmitsEmptyPassword(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	u := srv.AddUser("Dan", "dan@example.com", "keep", false)
	admin := srv.AddUser("Root", "root@example.com", "pw", true)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.Session(srv.Token(admin.ID)).UpdateUser(ctx, u.ID, backend.UserUpdate{
		Name: "Daniel", Grade: backend.GradeM2, Email: "dan@example.com", IsActive: true,
	})
	require.NoError(t, err)

	_, err = c.Session("").Login(ctx, "dan@example.com", "keep")
	assert.NoError(t, err)
}
