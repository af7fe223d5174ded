package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/normalize"
	"github.com/pharmalink/provider-sync/internal/provsync"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

type errorBody struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps err onto a status and the {message, details} body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := provsync.HTTPStatus(err)
	body := errorBody{Message: err.Error(), Details: details(err)}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func details(err error) map[string]any {
	var (
		missing   *credential.MissingCredentialError
		invalid   *daterange.InvalidRangeError
		upErr     *upstream.Error
		malformed *normalize.MalformedResponseError
	)
	d := map[string]any{"class": provsync.Classify(err).String()}
	switch {
	case errors.As(err, &missing):
		d["provider"] = missing.Provider
		d["field"] = missing.Field
		d["branch"] = missing.Branch
	case errors.As(err, &invalid):
		d["from"] = invalid.From
		d["to"] = invalid.To
		d["reason"] = invalid.Reason
	case errors.As(err, &malformed):
		d["provider"] = malformed.Provider
		d["block"] = malformed.Block
		d["keys"] = malformed.Keys
	case errors.As(err, &upErr):
		d["provider"] = upErr.Provider
		if upErr.Status > 0 {
			d["upstream_status"] = upErr.Status
		}
	}
	return d
}
