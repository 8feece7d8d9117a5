// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/emadruga/javumbo-sub001/internal/auth"
	"github.com/emadruga/javumbo-sub001/internal/repo"
	"github.com/emadruga/javumbo-sub001/internal/review"
	"github.com/emadruga/javumbo-sub001/internal/session"
	"github.com/emadruga/javumbo-sub001/internal/store"
)

// errResponse is the body of every error reply. The message strings are
// sentinel error texts that clients match on, so they pass through verbatim.
type errResponse struct {
	Error string `json:"error"`
}

// httpError carries an explicit status for boundary-level failures (bad
// JSON, failed validation) that have no domain sentinel.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error { return &httpError{status: http.StatusBadRequest, msg: msg} }

// statusFor maps a domain error to its HTTP status. Unknown errors are
// internal.
func statusFor(err error) int {
	var he *httpError
	if errors.As(err, &he) {
		return he.status
	}
	switch {
	case errors.Is(err, repo.ErrEmptyField),
		errors.Is(err, repo.ErrEmptyDeckName),
		errors.Is(err, repo.ErrDefaultDeck),
		errors.Is(err, review.ErrInvalidEase):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrAuthRequired),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, repo.ErrDeckNotFound),
		errors.Is(err, repo.ErrCardNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, store.ErrCollectionMissing):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrDuplicateUser),
		errors.Is(err, repo.ErrDuplicateDeck):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage strips wrapping context from internal errors so that storage
// details never leak to clients. Domain sentinels keep their exact text.
func publicMessage(err error) string {
	var he *httpError
	if errors.As(err, &he) {
		return he.msg
	}
	for _, sentinel := range []error{
		repo.ErrEmptyField, repo.ErrEmptyDeckName, repo.ErrDefaultDeck,
		repo.ErrDeckNotFound, repo.ErrDuplicateDeck, repo.ErrCardNotFound,
		repo.ErrIntegrity,
		review.ErrInvalidEase,
		auth.ErrAuthRequired, auth.ErrInvalidCredentials,
		auth.ErrUserNotFound, auth.ErrDuplicateUser,
		store.ErrCollectionMissing, store.ErrBusy,
		session.ErrCancelled, session.ErrStoreOpen,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Internal server error"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errResponse{Error: publicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads the request body into dst, rejecting trailing garbage.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return badRequest("Invalid JSON body")
	}
	return nil
}
