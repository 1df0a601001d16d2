// Package guard decides whether a caller may see a protected view.
//
// Identity is never trusted from local state: every evaluation asks the
// backend who the caller is. Both route classes (signed-in and admin) go
// through the same Evaluate call, parameterized by Capability.
package guard

import (
	"context"

	"lending_portal/backend"
)

type Capability int

const (
	Authenticated Capability = iota
	Admin
)

func (c Capability) String() string {
	if c == Admin {
		return "admin"
	}
	return "authenticated"
}

// Identity is the resolved caller. The zero value is anonymous.
type Identity struct {
	Authenticated bool
	IsAdmin       bool
	User          *backend.User
}

// Decision is the tagged guard result. The zero value is Pending.
type Decision int

const (
	Pending Decision = iota
	Granted
	Denied
)

func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	}
	return "pending"
}

// IdentitySource is anything that can answer GET /me with the caller's
// credential attached. *backend.Session satisfies it.
type IdentitySource interface {
	Me(ctx context.Context) (*backend.User, error)
}

// ResolveIdentity asks source who the caller is. Any failure, remote or
// network, gives the anonymous identity; the two are not distinguished.
func ResolveIdentity(ctx context.Context, source IdentitySource) Identity {
	if source == nil {
		return Identity{}
	}
	u, err := source.Me(ctx)
	if err != nil || u == nil {
		return Identity{}
	}
	return Identity{Authenticated: true, IsAdmin: u.IsAdmin, User: u}
}

// Check maps an identity to a decision for capability.
// An admin flag without authentication is never enough.
func Check(id Identity, capability Capability) Decision {
	if !id.Authenticated {
		return Denied
	}
	if capability == Admin && !id.IsAdmin {
		return Denied
	}
	return Granted
}

// Result is one finished evaluation.
type Result struct {
	Decision Decision
	Identity Identity
}

// Guard evaluates one capability. Observe, when set, sees every finished
// evaluation (used for logging).
type Guard struct {
	Capability Capability
	Observe    func(Result)
}

func New(capability Capability) *Guard { return &Guard{Capability: capability} }

// Evaluate resolves the identity and checks it. It blocks until the identity
// call returns; callers render nothing protected until then. A cancelled
// context yields Pending, which callers must treat as "not granted".
func (g *Guard) Evaluate(ctx context.Context, source IdentitySource) Result {
	id := ResolveIdentity(ctx, source)
	if ctx.Err() != nil {
		return Result{Decision: Pending}
	}
	r := Result{Decision: Check(id, g.Capability), Identity: id}
	if g.Observe != nil {
		g.Observe(r)
	}
	return r
}
