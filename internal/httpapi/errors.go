package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/chat"
	"github.com/brightgems/openai-api-server/internal/llm"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrUnknownConversation):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case llm.IsProtocolError(err), errors.Is(err, llm.ErrNoEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, chat.ErrNoEmbedder):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
		detail = http.StatusText(status)
	}
	writeDetail(w, status, detail)
}
