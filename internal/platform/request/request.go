// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package requestutil provides utilities for extracting data from HTTP requests.

It abstracts away the underlying router's parameter extraction and common
body decoding patterns, ensuring consistent error handling and type safety.
*/
package requestutil

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/ctxutil"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/platform/validate"
)

// DecodeJSON reads the request body and decodes it into the target structure.
// It returns [validate.ErrInvalidJSON] when the body is not valid JSON.
func DecodeJSON(request *http.Request, target any) error {
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		return validate.ErrInvalidJSON
	}
	return nil
}

// Param retrieves a named URL parameter from the request.
func Param(request *http.Request, name string) string {
	return chi.URLParam(request, name)
}

// User extracts the caller context from the request. It never returns nil;
// unauthenticated requests yield the anonymous caller.
func User(request *http.Request) *sec.UserContext {
	return ctxutil.GetUser(request.Context())
}

// RequiredUser ensures the request is authenticated and returns the caller.
func RequiredUser(request *http.Request) (*sec.UserContext, error) {
	user := ctxutil.GetUser(request.Context())
	if user.IsAnonymous() {
		return nil, apperr.Authentication("Authentication required")
	}
	return user, nil
}
