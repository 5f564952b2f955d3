// Package handler exposes the chat use case over API Gateway (Lambda) and a
// chi HTTP router.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"church-assistant/internal/usecase"
)

// Handler serves API Gateway proxy events.
type Handler struct {
	uc ChatUseCase
}

func NewHandler(uc ChatUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

// Handle never returns an error; failures are rendered as JSON responses.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationOr(header(event.Headers, correlationHeader))

	var r reply
	switch event.HTTPMethod {
	case http.MethodOptions:
		r = preflight(correlationID)
	case http.MethodPost:
		body := []byte(event.Body)
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(event.Body)
			if err != nil {
				r = errorReply(correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
				break
			}
			body = decoded
		}
		r = serveChat(ctx, h.uc, body, forwardedFor(event), correlationID)
	default:
		r = methodNotAllowed(correlationID)
	}

	return events.APIGatewayProxyResponse{
		StatusCode: r.status,
		Headers:    r.headers,
		Body:       string(r.body),
	}, nil
}

// forwardedFor prefers the X-Forwarded-For header and falls back to the
// source address API Gateway observed.
func forwardedFor(event events.APIGatewayProxyRequest) string {
	if v := header(event.Headers, "X-Forwarded-For"); v != "" {
		return v
	}
	return event.RequestContext.Identity.SourceIP
}

// header looks name up case-insensitively.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
