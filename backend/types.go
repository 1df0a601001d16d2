package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Grade 年级（U4/M1/M2/OB_OG）
type Grade string

const (
	GradeU4   Grade = "U4"
	GradeM1   Grade = "M1"
	GradeM2   Grade = "M2"
	GradeOBOG Grade = "OB_OG"
)

var Grades = []Grade{GradeU4, GradeM1, GradeM2, GradeOBOG}

func (g Grade) Valid() bool {
	for _, v := range Grades {
		if g == v {
			return true
		}
	}
	return false
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Grade     Grade     `json:"grade"`
	IsAdmin   bool      `json:"is_admin"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Item struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	CategoryID       *int64    `json:"category_id"`
	Category         *Category `json:"category,omitempty"`
	IsAvailable      bool      `json:"is_available"`
	Location         *string   `json:"location"`
	Notes            *string   `json:"notes"`
	ImagePath        *string   `json:"image_path"`
	RegistrationDate time.Time `json:"registration_date"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CategoryName 无分类时返回空串
func (it Item) CategoryName() string {
	if it.Category == nil {
		return ""
	}
	return it.Category.Name
}

// ItemInput is the create/update body of /items/.
type ItemInput struct {
	Name        string  `json:"name"`
	CategoryID  *int64  `json:"category_id"`
	Location    *string `json:"location"`
	Notes       *string `json:"notes"`
	IsAvailable bool    `json:"is_available"`
}

type CategoryInput struct {
	Name string `json:"name"`
}

type SignUpInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Grade    Grade  `json:"grade"`
}

// UserCreate is the admin body of POST /users/.
type UserCreate struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Grade    Grade  `json:"grade"`
	IsAdmin  bool   `json:"is_admin"`
}

// UserUpdate is the body of PUT /users/{id}. Password is sent only when set.
type UserUpdate struct {
	Name     string  `json:"name"`
	Grade    Grade   `json:"grade"`
	Email    string  `json:"email"`
	Password *string `json:"password,omitempty"`
	IsAdmin  bool    `json:"is_admin"`
	IsActive bool    `json:"is_active"`
}

type LoginResult struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// Status is the lifecycle state of a Transaction.
//
//	request ──approve──▶ approved ──return──▶ returned
//	   │ └──reject───▶ rejected
//	   └──cancel───▶ cancelled
//
// The backend reports a cancelled request as a null status.
type Status string

const (
	StatusRequest   Status = "request"
	StatusApproved  Status = "approved"
	StatusReturned  Status = "returned"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusRejected || s == StatusCancelled
}

// Open reports whether the transaction holds its item.
func (s Status) Open() bool { return s == StatusRequest || s == StatusApproved }

func (s Status) CanCancel() bool { return s == StatusRequest }
func (s Status) CanReturn() bool { return s == StatusApproved }
func (s Status) CanDecide() bool { return s == StatusRequest }

func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusRequest:
		return to == StatusApproved || to == StatusRejected || to == StatusCancelled
	case StatusApproved:
		return to == StatusReturned
	}
	return false
}

func (s Status) MarshalJSON() ([]byte, error) {
	if s == StatusCancelled {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Status) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*s = StatusCancelled
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	*s = Status(raw)
	return nil
}

// Decision is an admin verdict on a pending request.
type Decision = Status

type Transaction struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	ItemID          int64      `json:"item_id"`
	Type            string     `json:"type"`
	Reason          *string    `json:"reason"`
	Status          Status     `json:"status"`
	TransactionDate time.Time  `json:"transaction_date"`
	ReturnDeadline  *time.Time `json:"return_deadline,omitempty"`
	ReturnedDate    *time.Time `json:"returned_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Item            *Item      `json:"item,omitempty"`
	User            *User      `json:"user,omitempty"`
}

func (t Transaction) ItemName() string {
	if t.Item == nil {
		return ""
	}
	return t.Item.Name
}

func (t Transaction) UserName() string {
	if t.User == nil {
		return ""
	}
	return t.User.Name
}

func (t Transaction) ReasonText() string {
	if t.Reason == nil {
		return ""
	}
	return *t.Reason
}

// NewTransaction is the body of POST /transactions/.
type NewTransaction struct {
	UserID int64  `json:"user_id"`
	ItemID int64  `json:"item_id"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Status Status `json:"status"`
}

// TransactionFilter maps to the query filters of GET /transactions/. Zero fields are omitted.
type TransactionFilter struct {
	UserID int64
	ItemID int64
	Status Status
}
