// Package backendtest runs an in-memory lending backend that speaks the same
// REST contract as the real one. Tests only.
package backendtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lending_portal/backend"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const CookieName = backend.DefaultCookieName

type account struct {
	backend.User
	password string
}

type failure struct {
	method, path string
	status       int
	detail       string
}

// Server is the fake backend. All state sits behind one mutex, so state
// transitions are serialized exactly like the real database would.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	users      map[int64]*account
	tokens     map[string]int64
	categories map[int64]*backend.Category
	items      map[int64]*backend.Item
	txs        map[int64]*backend.Transaction
	resets     map[string]int64
	nextID     int64
	failures   []failure

	requests atomic.Int64
}

func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		users:      map[int64]*account{},
		tokens:     map[string]int64{},
		categories: map[int64]*backend.Category{},
		items:      map[int64]*backend.Item{},
		txs:        map[int64]*backend.Transaction{},
		resets:     map[string]int64{},
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

// Requests is the number of requests received so far.
func (s *Server) Requests() int64 { return s.requests.Load() }

// FailNext makes the next request matching method and path prefix answer status/detail.
func (s *Server) FailNext(method, pathPrefix string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method, pathPrefix, status, detail})
}

func (s *Server) id() int64 { s.nextID++; return s.nextID }

// User returns the stored account.
func (s *Server) User(id int64) (backend.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.users[id]
	if !ok {
		return backend.User{}, false
	}
	return a.User, true
}

// AddUser creates an account directly.
func (s *Server) AddUser(name, email, password string, admin bool) backend.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	a := &account{User: backend.User{
		ID: s.id(), Name: name, Email: strings.ToLower(email), Grade: backend.GradeM1,
		IsAdmin: admin, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}, password: password}
	s.users[a.ID] = a
	return a.User
}

// Token issues a session token for userID, like a successful /login.
func (s *Server) Token(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := uuid.NewString()
	s.tokens[t] = userID
	return t
}

func (s *Server) AddCategory(name string) backend.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := &backend.Category{ID: s.id(), Name: name, CreatedAt: now, UpdatedAt: now}
	s.categories[c.ID] = c
	return *c
}

func (s *Server) AddItem(name string, categoryID *int64) backend.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	it := &backend.Item{
		ID: s.id(), Name: name, CategoryID: categoryID, IsAvailable: true,
		RegistrationDate: now, CreatedAt: now, UpdatedAt: now,
	}
	s.items[it.ID] = it
	return s.itemView(it)
}

func (s *Server) Item(id int64) (backend.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return backend.Item{}, false
	}
	return s.itemView(it), true
}

func (s *Server) Transaction(id int64) (backend.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return backend.Transaction{}, false
	}
	return *t, true
}

// ResetToken returns a token valid for /reset-password, as if mailed.
func (s *Server) ResetToken(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := uuid.NewString()
	s.resets[t] = userID
	return t
}

func (s *Server) itemView(it *backend.Item) backend.Item {
	out := *it
	if it.CategoryID != nil {
		if c, ok := s.categories[*it.CategoryID]; ok {
			cc := *c
			out.Category = &cc
		}
	}
	return out
}

func (s *Server) txView(t *backend.Transaction) backend.Transaction {
	out := *t
	if it, ok := s.items[t.ItemID]; ok {
		iv := s.itemView(it)
		out.Item = &iv
	}
	if a, ok := s.users[t.UserID]; ok {
		u := a.User
		out.User = &u
	}
	return out
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		s.requests.Add(1)
		s.mu.Lock()
		for i, f := range s.failures {
			if f.method == c.Request.Method && strings.HasPrefix(c.Request.URL.Path, f.path) {
				s.failures = append(s.failures[:i], s.failures[i+1:]...)
				s.mu.Unlock()
				detail(c, f.status, f.detail)
				return
			}
		}
		s.mu.Unlock()
		c.Next()
	})

	r.POST("/login", s.login)
	r.POST("/users/", s.signUp)
	r.POST("/forgot-password", s.forgotPassword)
	r.POST("/reset-password", s.resetPassword)

	auth := r.Group("", s.authRequired)
	auth.GET("/me", s.me)
	auth.POST("/logout", s.logout)
	auth.POST("/change-password", s.changePassword)
	auth.GET("/users/", s.listUsers)
	auth.GET("/users/:id", s.getUser)
	auth.PUT("/users/:id", s.updateUser)
	auth.GET("/categories/", s.listCategories)
	auth.GET("/categories/:id", s.getCategory)
	auth.POST("/categories/", s.adminOnly, s.createCategory)
	auth.PUT("/categories/:id", s.adminOnly, s.updateCategory)
	auth.GET("/items/", s.listItems)
	auth.GET("/items/:id", s.getItem)
	auth.POST("/items/", s.adminOnly, s.createItem)
	auth.PUT("/items/:id", s.adminOnly, s.updateItem)
	auth.POST("/transactions/", s.createTransaction)
	auth.GET("/transactions/", s.listTransactions)
	auth.PATCH("/transactions/:id", s.adminOnly, s.decideTransaction)
	auth.POST("/cancel/:id", s.cancelTransaction)
	auth.POST("/return/:id", s.returnTransaction)
	return r
}

func (s *Server) authRequired(c *gin.Context) {
	ck, err := c.Request.Cookie(CookieName)
	if err != nil || ck.Value == "" {
		detail(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	s.mu.Lock()
	uid, ok := s.tokens[ck.Value]
	a := s.users[uid]
	s.mu.Unlock()
	if !ok || a == nil || !a.IsActive {
		detail(c, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	c.Set("uid", uid)
	c.Set("admin", a.IsAdmin)
	c.Next()
}

func (s *Server) adminOnly(c *gin.Context) {
	if !c.GetBool("admin") {
		detail(c, http.StatusForbidden, "Admin privileges required")
		return
	}
	c.Next()
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) login(c *gin.Context) {
	var in struct{ Email, Password string }
	if err := c.ShouldBindJSON(&in); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	var found *account
	for _, a := range s.users {
		if a.Email == strings.ToLower(in.Email) && a.password == in.Password {
			found = a
		}
	}
	if found == nil {
		s.mu.Unlock()
		detail(c, http.StatusBadRequest, "Invalid credentials")
		return
	}
	tok := uuid.NewString()
	s.tokens[tok] = found.ID
	s.mu.Unlock()
	http.SetCookie(c.Writer, &http.Cookie{Name: CookieName, Value: tok, Path: "/", HttpOnly: true, MaxAge: 7200})
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "user_id": found.ID, "name": found.Name})
}

func (s *Server) logout(c *gin.Context) {
	ck, _ := c.Request.Cookie(CookieName)
	s.mu.Lock()
	delete(s.tokens, ck.Value)
	s.mu.Unlock()
	http.SetCookie(c.Writer, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1})
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) me(c *gin.Context) {
	s.mu.Lock()
	u := s.users[c.GetInt64("uid")].User
	s.mu.Unlock()
	c.JSON(http.StatusOK, u)
}

func (s *Server) signUp(c *gin.Context) {
	var in backend.UserCreate
	if err := c.ShouldBindJSON(&in); err != nil || !in.Grade.Valid() {
		detail(c, http.StatusUnprocessableEntity, "invalid user")
		return
	}
	s.mu.Lock()
	for _, a := range s.users {
		if a.Email == strings.ToLower(in.Email) {
			s.mu.Unlock()
			detail(c, http.StatusBadRequest, "Email already registered")
			return
		}
	}
	s.mu.Unlock()
	u := s.AddUser(in.Name, in.Email, in.Password, in.IsAdmin)
	s.mu.Lock()
	s.users[u.ID].Grade = in.Grade
	u = s.users[u.ID].User
	s.mu.Unlock()
	c.JSON(http.StatusOK, u)
}

func (s *Server) changePassword(c *gin.Context) {
	var in struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	_ = c.ShouldBindJSON(&in)
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.users[c.GetInt64("uid")]
	if a.password != in.Current {
		detail(c, http.StatusBadRequest, "current password is incorrect")
		return
	}
	a.password = in.New
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

func (s *Server) forgotPassword(c *gin.Context) {
	email := strings.ToLower(c.Query("email"))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.users {
		if a.Email == email {
			s.resets[uuid.NewString()] = a.ID
			c.JSON(http.StatusOK, gin.H{"message": "reset link sent"})
			return
		}
	}
	detail(c, http.StatusNotFound, "email address not registered")
}

func (s *Server) resetPassword(c *gin.Context) {
	var in struct {
		Token string `json:"token"`
		New   string `json:"new_password"`
	}
	_ = c.ShouldBindJSON(&in)
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.resets[in.Token]
	if !ok {
		detail(c, http.StatusBadRequest, "token is invalid or expired")
		return
	}
	delete(s.resets, in.Token)
	s.users[uid].password = in.New
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

func (s *Server) listUsers(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.User, 0, len(s.users))
	for id := int64(1); id <= s.nextID; id++ {
		if a, ok := s.users[id]; ok {
			out = append(out, a.User)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.users[id]
	if !ok {
		detail(c, http.StatusNotFound, "User not found")
		return
	}
	c.JSON(http.StatusOK, a.User)
}

func (s *Server) updateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if c.GetInt64("uid") != id && !c.GetBool("admin") {
		detail(c, http.StatusForbidden, "Permission denied: only self or admin can update user info")
		return
	}
	var in backend.UserUpdate
	if err := c.ShouldBindJSON(&in); err != nil || !in.Grade.Valid() {
		detail(c, http.StatusUnprocessableEntity, "invalid user")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.users[id]
	if !ok {
		detail(c, http.StatusNotFound, "User not found")
		return
	}
	a.Name, a.Email, a.Grade, a.IsAdmin, a.IsActive = in.Name, strings.ToLower(in.Email), in.Grade, in.IsAdmin, in.IsActive
	if in.Password != nil {
		a.password = *in.Password
	}
	a.UpdatedAt = time.Now().UTC()
	c.JSON(http.StatusOK, a.User)
}

func (s *Server) listCategories(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Category, 0, len(s.categories))
	for id := int64(1); id <= s.nextID; id++ {
		if cat, ok := s.categories[id]; ok {
			out = append(out, *cat)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.categories[id]
	if !ok {
		detail(c, http.StatusNotFound, "Category not found")
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (s *Server) categoryNameTaken(name string, except int64) bool {
	for _, cat := range s.categories {
		if cat.Name == name && cat.ID != except {
			return true
		}
	}
	return false
}

func (s *Server) createCategory(c *gin.Context) {
	var in backend.CategoryInput
	_ = c.ShouldBindJSON(&in)
	s.mu.Lock()
	taken := s.categoryNameTaken(in.Name, 0)
	s.mu.Unlock()
	if taken {
		detail(c, http.StatusBadRequest, "This category name is already in use.")
		return
	}
	c.JSON(http.StatusOK, s.AddCategory(in.Name))
}

func (s *Server) updateCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in backend.CategoryInput
	_ = c.ShouldBindJSON(&in)
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.categories[id]
	if !ok {
		detail(c, http.StatusNotFound, "Category not found")
		return
	}
	if s.categoryNameTaken(in.Name, id) {
		detail(c, http.StatusBadRequest, "This category name is already in use.")
		return
	}
	cat.Name = in.Name
	cat.UpdatedAt = time.Now().UTC()
	c.JSON(http.StatusOK, cat)
}

func (s *Server) listItems(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Item, 0, len(s.items))
	for id := int64(1); id <= s.nextID; id++ {
		if it, ok := s.items[id]; ok {
			out = append(out, s.itemView(it))
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		detail(c, http.StatusNotFound, "Item not found")
		return
	}
	c.JSON(http.StatusOK, s.itemView(it))
}

func (s *Server) createItem(c *gin.Context) {
	var in backend.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil || in.Name == "" {
		detail(c, http.StatusUnprocessableEntity, "name is required")
		return
	}
	it := s.AddItem(in.Name, in.CategoryID)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.items[it.ID]
	stored.Location, stored.Notes, stored.IsAvailable = in.Location, in.Notes, in.IsAvailable
	c.JSON(http.StatusOK, s.itemView(stored))
}

func (s *Server) updateItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in backend.ItemInput
	_ = c.ShouldBindJSON(&in)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		detail(c, http.StatusNotFound, "Item not found")
		return
	}
	it.Name, it.CategoryID, it.Location, it.Notes = in.Name, in.CategoryID, in.Location, in.Notes
	// availability follows open transactions; an admin edit cannot free a held item
	it.IsAvailable = in.IsAvailable && !s.itemHeld(id)
	it.UpdatedAt = time.Now().UTC()
	c.JSON(http.StatusOK, s.itemView(it))
}

func (s *Server) itemHeld(itemID int64) bool {
	for _, t := range s.txs {
		if t.ItemID == itemID && t.Status.Open() {
			return true
		}
	}
	return false
}

func (s *Server) createTransaction(c *gin.Context) {
	var in backend.NewTransaction
	if err := c.ShouldBindJSON(&in); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[in.ItemID]
	if !ok {
		detail(c, http.StatusNotFound, "Item not found")
		return
	}
	if _, ok := s.users[in.UserID]; !ok {
		detail(c, http.StatusNotFound, "User not found")
		return
	}
	if !it.IsAvailable || s.itemHeld(it.ID) {
		detail(c, http.StatusBadRequest, "item is currently unavailable")
		return
	}
	now := time.Now().UTC()
	reason := in.Reason
	t := &backend.Transaction{
		ID: s.id(), UserID: in.UserID, ItemID: in.ItemID, Type: in.Type, Reason: &reason,
		Status: backend.StatusRequest, TransactionDate: now, CreatedAt: now,
	}
	s.txs[t.ID] = t
	it.IsAvailable = false
	c.JSON(http.StatusOK, t)
}

func (s *Server) listTransactions(c *gin.Context) {
	var uid, iid int64
	if v := c.Query("user_id"); v != "" {
		uid, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := c.Query("item_id"); v != "" {
		iid, _ = strconv.ParseInt(v, 10, 64)
	}
	status := backend.Status(c.Query("status"))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []backend.Transaction{}
	for id := int64(1); id <= s.nextID; id++ {
		t, ok := s.txs[id]
		if !ok {
			continue
		}
		if (uid != 0 && t.UserID != uid) || (iid != 0 && t.ItemID != iid) || (status != "" && t.Status != status) {
			continue
		}
		out = append(out, s.txView(t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) decideTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	to := backend.Status(c.Query("status"))
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		detail(c, http.StatusNotFound, "Transaction not found")
		return
	}
	if (to != backend.StatusApproved && to != backend.StatusRejected) || !t.Status.CanTransition(to) {
		detail(c, http.StatusBadRequest, fmt.Sprintf("cannot move transaction from %s to %s", t.Status, to))
		return
	}
	t.Status = to
	if it, ok := s.items[t.ItemID]; ok {
		it.IsAvailable = to == backend.StatusRejected
	}
	if to == backend.StatusApproved {
		d := time.Now().UTC().Add(14 * 24 * time.Hour)
		t.ReturnDeadline = &d
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) cancelTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok || !t.Status.CanCancel() || t.UserID != c.GetInt64("uid") {
		detail(c, http.StatusNotFound, "no cancellable request found")
		return
	}
	t.Status = backend.StatusCancelled
	if it, ok := s.items[t.ItemID]; ok {
		it.IsAvailable = true
	}
	c.JSON(http.StatusOK, gin.H{"message": "request cancelled"})
}

func (s *Server) returnTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		detail(c, http.StatusNotFound, "Transaction not found")
		return
	}
	if t.UserID != c.GetInt64("uid") && !c.GetBool("admin") {
		detail(c, http.StatusForbidden, "not your rental")
		return
	}
	if !t.Status.CanReturn() {
		detail(c, http.StatusBadRequest, "transaction is not on loan")
		return
	}
	now := time.Now().UTC()
	t.Status = backend.StatusReturned
	t.ReturnedDate = &now
	if it, ok := s.items[t.ItemID]; ok {
		it.IsAvailable = true
	}
	c.JSON(http.StatusOK, gin.H{"message": "returned", "transaction_id": t.ID})
}
