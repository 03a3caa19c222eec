package access

import "context"

// Decision describes an access check that the built-in rules granted.
type Decision struct {
	UserID    int64
	ItemID    int64
	Operation string
}

// Policy can veto a granted check. Policies run after the built-in
// rules and only narrow: returning false denies, returning true leaves
// the grant standing. A denied check never reaches the policies.
type Policy func(ctx context.Context, d Decision) bool

// RegisterPolicy adds a narrowing policy. Register during wiring,
// before the resolver serves requests.
func (r *Resolver) RegisterPolicy(p Policy) {
	r.policies = append(r.policies, p)
}

func (r *Resolver) applyPolicies(ctx context.Context, d Decision) bool {
	for _, p := range r.policies {
		if !p(ctx, d) {
			return false
		}
	}
	return true
}
