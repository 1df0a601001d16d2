package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Items

func (s *Session) ListItems(ctx context.Context) ([]Item, error) {
	var out []Item
	if err := s.do(ctx, http.MethodGet, "/items/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) GetItem(ctx context.Context, id int64) (*Item, error) {
	var it Item
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/items/%d", id), nil, nil, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Session) CreateItem(ctx context.Context, in ItemInput) (*Item, error) {
	var it Item
	if err := s.do(ctx, http.MethodPost, "/items/", nil, in, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Session) UpdateItem(ctx context.Context, id int64, in ItemInput) (*Item, error) {
	var it Item
	if err := s.do(ctx, http.MethodPut, fmt.Sprintf("/items/%d", id), nil, in, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

// Categories

func (s *Session) ListCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := s.do(ctx, http.MethodGet, "/categories/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) GetCategory(ctx context.Context, id int64) (*Category, error) {
	var c Category
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/categories/%d", id), nil, nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Session) CreateCategory(ctx context.Context, name string) (*Category, error) {
	var c Category
	if err := s.do(ctx, http.MethodPost, "/categories/", nil, CategoryInput{Name: name}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Session) UpdateCategory(ctx context.Context, id int64, name string) (*Category, error) {
	var c Category
	if err := s.do(ctx, http.MethodPut, fmt.Sprintf("/categories/%d", id), nil, CategoryInput{Name: name}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Users

func (s *Session) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := s.do(ctx, http.MethodGet, "/users/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser adds an account from the admin pages; unlike SignUp it can set is_admin.
func (s *Session) CreateUser(ctx context.Context, in UserCreate) (*User, error) {
	var u User
	if err := s.do(ctx, http.MethodPost, "/users/", nil, in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Session) UpdateUser(ctx context.Context, id int64, in UserUpdate) (*User, error) {
	var u User
	if err := s.do(ctx, http.MethodPut, fmt.Sprintf("/users/%d", id), nil, in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Transactions

func (s *Session) CreateTransaction(ctx context.Context, in NewTransaction) (*Transaction, error) {
	var t Transaction
	if err := s.do(ctx, http.MethodPost, "/transactions/", nil, in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Session) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	q := url.Values{}
	if f.UserID != 0 {
		q.Set("user_id", strconv.FormatInt(f.UserID, 10))
	}
	if f.ItemID != 0 {
		q.Set("item_id", strconv.FormatInt(f.ItemID, 10))
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	var out []Transaction
	if err := s.do(ctx, http.MethodGet, "/transactions/", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecideTransaction moves a pending request to approved or rejected.
func (s *Session) DecideTransaction(ctx context.Context, id int64, decision Status) (*Transaction, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return nil, NewValidationError("status", "decision must be %q or %q", StatusApproved, StatusRejected)
	}
	var t Transaction
	q := url.Values{"status": {string(decision)}}
	if err := s.do(ctx, http.MethodPatch, fmt.Sprintf("/transactions/%d", id), q, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Session) CancelTransaction(ctx context.Context, id int64) error {
	return s.do(ctx, http.MethodPost, fmt.Sprintf("/cancel/%d", id), nil, struct{}{}, nil)
}

func (s *Session) ReturnTransaction(ctx context.Context, id int64) error {
	return s.do(ctx, http.MethodPost, fmt.Sprintf("/return/%d", id), nil, struct{}{}, nil)
}
