package provsync

import (
	"context"
	"errors"
	"net/http"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/normalize"
	"github.com/pharmalink/provider-sync/internal/resilience"
	"github.com/pharmalink/provider-sync/internal/store"
	"github.com/pharmalink/provider-sync/internal/token"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

// Class is the error taxonomy of sync operations.
type Class int

const (
	ClassFatal Class = iota
	ClassMissingCredential
	ClassInvalidRange
	ClassAuth
	ClassUnavailable
	ClassMalformed
	ClassUpstream
	ClassBadRequest
	ClassNotFound
	ClassCanceled
)

var classNames = map[Class]string{
	ClassFatal:             "fatal",
	ClassMissingCredential: "missing_credential",
	ClassInvalidRange:      "invalid_range",
	ClassAuth:              "auth",
	ClassUnavailable:       "upstream_unavailable",
	ClassMalformed:         "malformed_response",
	ClassUpstream:          "upstream_error",
	ClassBadRequest:        "bad_request",
	ClassNotFound:          "not_found",
	ClassCanceled:          "canceled",
}

func (c Class) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return "unknown"
}

// Classify maps err onto the taxonomy.
func Classify(err error) Class {
	var (
		missing   *credential.MissingCredentialError
		invalid   *daterange.InvalidRangeError
		authErr   *token.AuthError
		malformed *normalize.MalformedResponseError
		unavail   *upstream.UnavailableError
		upErr     *upstream.Error
	)
	switch {
	case err == nil:
		return ClassFatal
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.As(err, &missing):
		return ClassMissingCredential
	case errors.As(err, &invalid):
		return ClassInvalidRange
	case errors.As(err, &authErr):
		return ClassAuth
	case errors.As(err, &malformed):
		return ClassMalformed
	case errors.As(err, &unavail),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return ClassUnavailable
	case errors.Is(err, credential.ErrBranchRequired),
		errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrInvalidArgument):
		return ClassBadRequest
	case errors.Is(err, credential.ErrBranchNotFound),
		errors.Is(err, credential.ErrUnknownProvider),
		errors.Is(err, store.ErrUnknownProvider),
		errors.Is(err, ErrUnknownProvider):
		return ClassNotFound
	case errors.As(err, &upErr):
		return ClassUpstream
	}
	return ClassFatal
}

// Recoverable reports whether a fleet run may skip the branch that failed
// with err and carry on.
func Recoverable(err error) bool {
	return Classify(err) == ClassAuth
}

// HTTPStatus returns the status a single-branch call surfaces for err.
// Upstream business errors keep the upstream's own 4xx status.
func HTTPStatus(err error) int {
	switch Classify(err) {
	case ClassMissingCredential, ClassInvalidRange, ClassBadRequest:
		return http.StatusBadRequest
	case ClassAuth:
		return http.StatusUnauthorized
	case ClassNotFound:
		return http.StatusNotFound
	case ClassUnavailable, ClassMalformed:
		return http.StatusBadGateway
	case ClassCanceled:
		return 499
	case ClassUpstream:
		var upErr *upstream.Error
		errors.As(err, &upErr)
		if upErr.Status >= 400 && upErr.Status < 500 {
			return upErr.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
