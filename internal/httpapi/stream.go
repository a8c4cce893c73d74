package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/chat"
)

type endFrame struct {
	State          string `json:"state,omitempty"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	OverBudget     bool   `json:"overBudget,omitempty"`
}

type errorFrame struct {
	State  string `json:"state,omitempty"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// sseWriter frames each chunk as one "data:" event. Chunks are JSON
// encoded so embedded newlines cannot break the framing.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseWriter) event(name string, v any) error {
	s.start()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sse := newSSEWriter(w)
	reply, err := s.deps.Chat.AskStream(r.Context(), req.toChat(userFrom(r.Context())), func(chunk string) error {
		return sse.event("", chunk)
	})
	if err != nil {
		if !sse.started {
			s.writeError(w, err)
			return
		}
		s.log.Warn("stream aborted", zap.Error(err))
		_ = sse.event("error", errorFrame{Status: statusFor(err), Detail: err.Error()})
		return
	}
	_ = sse.event("end", endFrame{
		ConversationID: reply.ConversationID,
		MessageID:      reply.MessageID,
		OverBudget:     reply.OverBudget,
	})
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(s.deps.CORSOrigins))
	anyOrigin := false
	for _, o := range s.deps.CORSOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || anyOrigin || allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

// handleChatSocket serves one exchange per client message: every chunk is
// sent as a JSON string, followed by an END frame.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	user := userFrom(r.Context())
	log := s.log.With(zap.String("user", user))
	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		reply, err := s.deps.Chat.AskStream(r.Context(), req.toChat(user), func(chunk string) error {
			return conn.WriteJSON(chunk)
		})
		if errors.Is(err, chat.ErrClientGone) {
			return
		}
		if err != nil {
			log.Warn("websocket exchange failed", zap.Error(err))
			if werr := conn.WriteJSON(errorFrame{State: "ERROR", Status: statusFor(err), Detail: err.Error()}); werr != nil {
				return
			}
			continue
		}
		end := endFrame{
			State:          "END",
			ConversationID: reply.ConversationID,
			MessageID:      reply.MessageID,
			OverBudget:     reply.OverBudget,
		}
		if err := conn.WriteJSON(end); err != nil {
			return
		}
	}
}
