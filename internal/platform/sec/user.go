// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import "strings"

// UserContext is the per-request caller identity derived from verified
// claims. It lives from authentication until the response is sent.
type UserContext struct {
	// Subject is the stable caller identifier (JWT 'sub').
	Subject string

	// Role is the normalized authorization level.
	Role Role

	// effective is the de-duplicated set of explicit "collection:operation"
	// grants carried by the token, expanded once at construction.
	effective map[string]struct{}

	// collections restricts the caller to these collections when non-empty.
	collections map[string]struct{}

	// procedures holds explicit procedure execution grants.
	procedures map[string]struct{}
}

// NewUserContext derives a [UserContext] from verified claims.
//
// Explicit grants are de-duplicated into a set so per-request authorization
// checks are O(1) regardless of token size.
func NewUserContext(claims *AuthClaims) *UserContext {
	user := &UserContext{
		Subject:   claims.Subject,
		Role:      ParseRole(claims.Role),
		effective: make(map[string]struct{}, len(claims.Permissions)),
	}

	for _, grant := range claims.Permissions {
		user.effective[strings.TrimSpace(grant)] = struct{}{}
	}

	if len(claims.Collections) > 0 {
		user.collections = make(map[string]struct{}, len(claims.Collections))
		for _, name := range claims.Collections {
			user.collections[name] = struct{}{}
		}
	}

	if len(claims.Procedures) > 0 {
		user.procedures = make(map[string]struct{}, len(claims.Procedures))
		for _, name := range claims.Procedures {
			user.procedures[name] = struct{}{}
		}
	}

	return user
}

// Anonymous returns the caller context for unauthenticated requests.
func Anonymous() *UserContext {
	return &UserContext{Subject: "", Role: RoleAnonymous}
}

// IsAnonymous reports whether the caller presented no valid token.
func (u *UserContext) IsAnonymous() bool {
	return u.Role == RoleAnonymous
}

// HasGrant reports whether the token explicitly grants the exact
// "collection:operation" pair or a "collection:*" wildcard.
func (u *UserContext) HasGrant(collection, operation string) bool {
	if _, ok := u.effective[collection+":"+operation]; ok {
		return true
	}
	_, ok := u.effective[collection+":*"]
	return ok
}

// CollectionScoped reports whether the token restricts collection access,
// and if so whether the given collection is inside the allowed scope.
func (u *UserContext) CollectionScoped(collection string) bool {
	if u.collections == nil {
		return true
	}
	_, ok := u.collections[collection]
	return ok
}

// CanExecuteProcedure reports whether the caller may run the named procedure
// given the procedure's own role list. Admins always may; otherwise the role
// must meet one of the allowed roles or the token must carry an explicit grant.
func (u *UserContext) CanExecuteProcedure(name string, allowedRoles []string) bool {
	if u.Role == RoleAdmin {
		return true
	}
	if _, ok := u.procedures[name]; ok {
		return true
	}
	for _, role := range allowedRoles {
		if u.Role.AtLeast(ParseRole(role)) {
			return true
		}
	}
	// A procedure with no declared roles is admin-only.
	return false
}
