// Package policy decides whether an actor may perform an action on a
// resource. Policies are plain predicates combined with explicit OR, so
// a route's rule reads as the composition it is (for example
// policy.Any(policy.ReadOnly, policy.AdminOrSuperuser)). Absence of an
// explicit allow is a denial.
package policy

import (
	"net/http"

	"reviewboard/pkg/domain"
)

// Actor is the principal behind a request. Authenticated is false for
// anonymous callers, in which case User is the zero value.
type Actor struct {
	User          domain.User
	Authenticated bool
}

// Owned is a resource with a known author, used for object-level checks.
type Owned interface {
	OwnedBy() string
}

// Policy reports whether the actor may perform the method on the
// resource. resource is nil for collection-level actions.
type Policy func(actor Actor, method string, resource Owned) bool

// SafeMethod reports whether the method cannot mutate state.
func SafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ReadOnly allows safe methods for any actor, including anonymous.
func ReadOnly(_ Actor, method string, _ Owned) bool {
	return SafeMethod(method)
}

// AdminOrSuperuser allows any action for authenticated admins and
// superusers.
func AdminOrSuperuser(actor Actor, _ string, _ Owned) bool {
	return actor.Authenticated && (actor.User.IsAdmin() || actor.User.Superuser)
}

// CanChangeOrReadOnly allows safe methods for anyone and unsafe methods
// for authenticated actors. When a resource is supplied, mutation
// additionally requires elevation (superuser, admin, or moderator) or
// authorship.
func CanChangeOrReadOnly(actor Actor, method string, resource Owned) bool {
	if SafeMethod(method) {
		return true
	}
	if !actor.Authenticated {
		return false
	}
	if resource == nil {
		return true
	}
	if actor.User.Superuser || actor.User.IsAdmin() || actor.User.IsModerator() {
		return true
	}
	return resource.OwnedBy() == actor.User.Username
}

// Any combines policies with OR semantics.
func Any(policies ...Policy) Policy {
	return func(actor Actor, method string, resource Owned) bool {
		for _, p := range policies {
			if p(actor, method, resource) {
				return true
			}
		}
		return false
	}
}
