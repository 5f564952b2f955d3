package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"church-assistant/internal/usecase"
)

func newTestRouter(t *testing.T, uc ChatUseCase) (http.Handler, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	r, err := NewRouter(uc, slog.New(slog.NewJSONHandler(&logs, nil)))
	require.NoError(t, err)
	return r, &logs
}

func TestNewRouter_ValidatesDependency(t *testing.T) {
	_, err := NewRouter(nil, nil)
	require.Error(t, err)
}

func TestRouter_Chat(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Message: "Paix à vous.", ConversationID: "conv-9"}}
	r, logs := newTestRouter(t, uc)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"Bonjour","sessionId":"s-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "Paix à vous.", out.Message)
	require.Equal(t, "conv-9", out.ConversationID)
	require.Equal(t, "203.0.113.7", uc.in.ForwardedFor)
	require.Equal(t, "s-1", uc.in.SessionID)
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, logs.String(), `"path":"/chat"`)
}

func TestRouter_ChatWithoutProxyUsesRemoteHost(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Message: "ok", ConversationID: "c"}}
	r, _ := newTestRouter(t, uc)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"Bonjour"}`))
	req.RemoteAddr = "192.0.2.10:51234"
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "192.0.2.10", uc.in.ForwardedFor)
}

func TestRouter_ChatErrorMapping(t *testing.T) {
	uc := &stubUseCase{err: &usecase.Error{Code: usecase.ErrorConversationNotFound, Reason: "conversation_not_owned"}}
	r, _ := newTestRouter(t, uc)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"Bonjour","conversationId":"other"}`))
	req.Header.Set("X-Correlation-Id", "corr-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "corr-7", rec.Header().Get("X-Correlation-Id"))
	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "CONVERSATION_NOT_FOUND", out.Code)
	require.Equal(t, "Conversation introuvable.", out.Error)
}

func TestRouter_BodyTooLarge(t *testing.T) {
	uc := &stubUseCase{}
	r, _ := newTestRouter(t, uc)

	big := `{"message":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(big)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, uc.calls)
}

func TestRouter_Preflight(t *testing.T) {
	r, _ := newTestRouter(t, &stubUseCase{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/chat", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r, _ := newTestRouter(t, &stubUseCase{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_Healthz(t *testing.T) {
	r, _ := newTestRouter(t, &stubUseCase{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
