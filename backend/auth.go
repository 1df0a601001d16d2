package backend

import (
	"context"
	"net/http"
	"net/url"
)

// Me is the identity check. Any 2xx means the session is authenticated.
func (s *Session) Me(ctx context.Context) (*User, error) {
	var u User
	if err := s.do(ctx, http.MethodGet, "/me", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login posts credentials; the backend answers with a session cookie that
// lands in the jar (see Token).
func (s *Session) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	in := map[string]string{"email": email, "password": password}
	var out LoginResult
	if err := s.do(ctx, http.MethodPost, "/login", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) Logout(ctx context.Context) error {
	return s.do(ctx, http.MethodPost, "/logout", nil, struct{}{}, nil)
}

func (s *Session) SignUp(ctx context.Context, in SignUpInput) (*User, error) {
	var u User
	if err := s.do(ctx, http.MethodPost, "/users/", nil, in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	in := map[string]string{"current_password": current, "new_password": next}
	return s.do(ctx, http.MethodPost, "/change-password", nil, in, nil)
}

// ForgotPassword asks the backend to mail a reset link. email travels as a query param.
func (s *Session) ForgotPassword(ctx context.Context, email string) error {
	return s.do(ctx, http.MethodPost, "/forgot-password", url.Values{"email": {email}}, nil, nil)
}

func (s *Session) ResetPassword(ctx context.Context, token, next string) error {
	in := map[string]string{"token": token, "new_password": next}
	return s.do(ctx, http.MethodPost, "/reset-password", nil, in, nil)
}
