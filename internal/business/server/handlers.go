package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/vetassist/mcp-bridge/internal/config"
	"github.com/vetassist/mcp-bridge/internal/serviceerr"
	"github.com/vetassist/mcp-bridge/internal/session"
	"github.com/vetassist/mcp-bridge/pkg/fingerprint"
)

//go:embed chat.html
var chatPage []byte

//go:embed callback.html
var callbackPage []byte

// bridgeServer implements the public HTTP API.
type bridgeServer struct {
	sManager *session.Manager
	cookie   config.CookieTemplate
}

func newBridgeServer(sManager *session.Manager, cookie config.CookieTemplate) *bridgeServer {
	return &bridgeServer{
		sManager: sManager,
		cookie:   cookie,
	}
}

type errorModel struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type initResponse struct {
	SessionID        string      `json:"sessionId"`
	Status           string      `json:"status"`
	AuthorizationURL string      `json:"authorizationUrl,omitempty"`
	Tools            []toolModel `json:"tools,omitempty"`
}

type toolModel struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type messageResponse struct {
	Reply string `json:"reply"`
}

// Init implements POST /init: create a session and connect its agent.
func (s *bridgeServer) Init(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slogctx.Debug(ctx, "Init() called")
	defer slogctx.Debug(ctx, "Init() completed")

	fp, err := fingerprint.ExtractFingerprint(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to extract fingerprint", "error", err)
		s.writeError(w, serviceerr.ErrUnknown)

		return
	}

	result, err := s.sManager.InitSession(ctx, fp)
	if err != nil {
		slogctx.Error(ctx, "Failed to initialise session", "error", err)
		s.writeError(w, err)

		return
	}

	http.SetCookie(w, s.cookie.ToCookie(result.SessionID))

	writeJSON(ctx, w, http.StatusOK, initResponse{
		SessionID:        result.SessionID,
		Status:           result.Status,
		AuthorizationURL: result.AuthorizationURL,
		Tools:            toToolModels(result.Tools),
	})
}

// Message implements POST /message: forward one user message to the
// session's agent. The session comes from the cookie; a sessionId in
// the body takes precedence.
func (s *bridgeServer) Message(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slogctx.Debug(ctx, "Message() called")
	defer slogctx.Debug(ctx, "Message() completed")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slogctx.Warn(ctx, "Failed to parse message request", "error", err)
		s.writeError(w, &serviceerr.Error{
			Err:         serviceerr.CodeInvalidRequest,
			Description: "request body does not parse",
		})

		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		cookie, err := r.Cookie(s.cookie.Name)
		if err != nil {
			s.writeError(w, serviceerr.ErrNotAuthorized)

			return
		}

		sessionID = cookie.Value
	}

	if req.Message == "" {
		s.writeError(w, &serviceerr.Error{
			Err:         serviceerr.CodeInvalidRequest,
			Description: "message must not be empty",
		})

		return
	}

	fp, err := fingerprint.ExtractFingerprint(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to extract fingerprint", "error", err)
		s.writeError(w, serviceerr.ErrUnknown)

		return
	}

	reply, err := s.sManager.HandleMessage(ctx, sessionID, fp, req.Message)
	if err != nil {
		slogctx.Error(ctx, "Failed to handle message", "error", err)
		s.writeError(w, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, messageResponse{Reply: reply})
}

// Callback implements GET /oauth/callback: finish the authorization
// the identity provider redirected back from.
func (s *bridgeServer) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slogctx.Debug(ctx, "Callback() called")
	defer slogctx.Debug(ctx, "Callback() completed")

	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		slogctx.Warn(ctx, "Identity provider denied the authorization",
			"error", errCode, "error_description", query.Get("error_description"))
		s.writeError(w, &serviceerr.Error{
			Err:         serviceerr.CodeInvalidRequest,
			Description: "authorization denied: " + errCode,
		})

		return
	}

	code := query.Get("code")
	state := query.Get("state")

	if code == "" || state == "" {
		s.writeError(w, &serviceerr.Error{
			Err:         serviceerr.CodeInvalidRequest,
			Description: "code and state query parameters are required",
		})

		return
	}

	fp, err := fingerprint.ExtractFingerprint(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to extract fingerprint", "error", err)
		s.writeError(w, serviceerr.ErrUnknown)

		return
	}

	if _, err := s.sManager.FinalizeAuthorization(ctx, state, code, fp); err != nil {
		slogctx.Error(ctx, "Failed to finalise authorization", "error", err)

		// mask fingerprint mismatch to avoid leaking session binding details
		if errors.Is(err, serviceerr.ErrFingerprintMismatch) {
			err = serviceerr.ErrNotAuthorized
		}

		s.writeError(w, err)

		return
	}

	http.SetCookie(w, s.cookie.ToCookie(state))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(callbackPage)
}

// Home implements GET /: serve the chat page.
func (s *bridgeServer) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(chatPage)
}

func (s *bridgeServer) writeError(w http.ResponseWriter, err error) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrUnknown
	}

	writeJSON(context.Background(), w, serviceErr.HTTPStatus(), errorModel{
		Error:            string(serviceErr.Err),
		ErrorDescription: serviceErr.Description,
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slogctx.Warn(ctx, "Failed to write response body", "error", err)
	}
}

func toToolModels(tools []session.ToolInfo) []toolModel {
	if len(tools) == 0 {
		return nil
	}

	models := make([]toolModel, 0, len(tools))
	for _, tool := range tools {
		models = append(models, toolModel{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}

	return models
}
