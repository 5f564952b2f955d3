package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"church-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase is the single operation both transports expose.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
}

type chatResponse struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// reply is a transport-neutral response.
type reply struct {
	status  int
	headers map[string]string
	body    []byte
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type, x-correlation-id",
	"Access-Control-Allow-Methods": "POST, OPTIONS",
}

func baseHeaders(correlationID string) map[string]string {
	h := make(map[string]string, len(corsHeaders)+2)
	for k, v := range corsHeaders {
		h[k] = v
	}
	h[correlationHeader] = correlationID
	return h
}

func correlationOr(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

func preflight(correlationID string) reply {
	return reply{status: http.StatusOK, headers: baseHeaders(correlationID)}
}

// serveChat decodes body, runs one chat turn and renders the outcome.
func serveChat(ctx context.Context, uc ChatUseCase, body []byte, forwardedFor, correlationID string) reply {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errorReply(correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
	}

	out, err := uc.Chat(ctx, usecase.ChatInput{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		ForwardedFor:   forwardedFor,
	})
	if err != nil {
		var ucErr *usecase.Error
		if !errors.As(err, &ucErr) {
			slog.ErrorContext(ctx, "unexpected chat error", "correlation_id", correlationID, "err", err)
		}
		return errorReply(correlationID, err)
	}

	return jsonReply(http.StatusOK, correlationID, chatResponse{Message: out.Message, ConversationID: out.ConversationID})
}

func errorReply(correlationID string, err error) reply {
	code := usecase.ErrorInternal
	reason := ""
	var retryAfter time.Duration
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
		reason = ucErr.Reason
		retryAfter = ucErr.RetryAfter
	}

	r := jsonReply(statusFor(code), correlationID, errorResponse{Error: messageFor(code, reason), Code: string(code)})
	if code == usecase.ErrorRateLimited {
		r.headers["Retry-After"] = strconv.Itoa(retrySeconds(retryAfter))
	}
	return r
}

func methodNotAllowed(correlationID string) reply {
	r := jsonReply(http.StatusMethodNotAllowed, correlationID, errorResponse{
		Error: "Méthode non autorisée.",
		Code:  string(usecase.ErrorInvalidInput),
	})
	r.headers["Allow"] = "POST, OPTIONS"
	return r
}

func jsonReply(status int, correlationID string, v any) reply {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Erreur interne du serveur.","code":"INTERNAL_ERROR"}`)
	}
	h := baseHeaders(correlationID)
	h["Content-Type"] = "application/json"
	return reply{status: status, headers: h, body: body}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorConversationNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code usecase.ErrorCode, reason string) string {
	switch code {
	case usecase.ErrorInvalidInput:
		switch reason {
		case "invalid_body":
			return "Corps de requête invalide."
		case "message_too_long":
			return "Le message est trop long."
		}
		return "Le message est requis."
	case usecase.ErrorRateLimited:
		return "Limite de requêtes atteinte. Réessayez dans 1 minute."
	case usecase.ErrorConversationNotFound:
		return "Conversation introuvable."
	case usecase.ErrorUpstream:
		return "Le service de réponse est momentanément indisponible. Veuillez réessayer."
	case usecase.ErrorUpstreamTimeout:
		return "Le service de réponse n'a pas répondu à temps. Veuillez réessayer."
	default:
		return "Erreur interne du serveur."
	}
}

// retrySeconds rounds up so clients never retry early. At least one second.
func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
