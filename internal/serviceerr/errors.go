// Package serviceerr defines the error taxonomy shared across the bridge and
// its mapping onto HTTP status codes.
package serviceerr

import "net/http"

// Code identifies a failure class. The values double as machine-readable
// error identifiers in HTTP responses.
type Code string

const (
	CodeUnknown        Code = "unknown"
	CodeInvalidRequest Code = "invalid_request"
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"

	CodeUnknownSession      Code = "unknown_session"
	CodeSessionExpired      Code = "session_expired"
	CodeFingerprintMismatch Code = "fingerprint_mismatch"
	CodeNotAuthorized       Code = "not_authorized"
	CodeAgentNotReady       Code = "agent_not_ready"

	CodeAuthorizationState    Code = "invalid_authorization_state"
	CodeMissingVerifier       Code = "missing_code_verifier"
	CodeMalformedRegistration Code = "malformed_client_registration"
	CodeMalformedTokenSet     Code = "malformed_token_set"
	CodeTokenExchange         Code = "token_exchange_failed"
)

// Error carries a failure class and an optional human-readable description.
type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// HTTPStatus maps the failure class onto the status the public API returns.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeUnknownSession:
		return http.StatusBadRequest
	case CodeNotAuthorized:
		return http.StatusUnauthorized
	case CodeFingerprintMismatch:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeSessionExpired:
		return http.StatusGone
	case CodeAuthorizationState, CodeMissingVerifier,
		CodeMalformedRegistration, CodeMalformedTokenSet:
		// Recovery is restarting authorization, never retrying the callback.
		return http.StatusConflict
	case CodeTokenExchange, CodeAgentNotReady:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

var ErrUnknown = &Error{Err: CodeUnknown, Description: "unknown error"}
var ErrNotFound = &Error{Err: CodeNotFound, Description: "not found"}
var ErrConflict = &Error{Err: CodeConflict, Description: "already exists"}

var ErrUnknownSession = &Error{Err: CodeUnknownSession, Description: "unknown or expired session"}
var ErrSessionExpired = &Error{Err: CodeSessionExpired, Description: "session expired"}
var ErrFingerprintMismatch = &Error{Err: CodeFingerprintMismatch, Description: "fingerprint mismatch"}
var ErrNotAuthorized = &Error{Err: CodeNotAuthorized, Description: "no authorized session"}
var ErrAgentNotReady = &Error{Err: CodeAgentNotReady, Description: "agent not initialised"}

// ErrAuthorizationState signals a callback for a session that never initiated
// authorization, or a replayed callback whose verifier was already consumed.
var ErrAuthorizationState = &Error{Err: CodeAuthorizationState, Description: "authorization was not initiated for this session"}

var ErrMissingVerifier = &Error{Err: CodeMissingVerifier, Description: "no code verifier saved for session"}
var ErrMalformedRegistration = &Error{Err: CodeMalformedRegistration, Description: "stored client registration does not parse"}
var ErrMalformedTokenSet = &Error{Err: CodeMalformedTokenSet, Description: "stored token set does not parse"}

// ErrTokenExchange covers any network or non-2xx failure from the identity
// provider's token endpoint. Upstream detail goes to the log, never into an
// HTTP response body.
var ErrTokenExchange = &Error{Err: CodeTokenExchange, Description: "token exchange failed"}
