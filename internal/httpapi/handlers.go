package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/analytics"
	"github.com/brightgems/openai-api-server/internal/auth"
	"github.com/brightgems/openai-api-server/internal/chat"
	"github.com/brightgems/openai-api-server/internal/storage"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// chatRequest is shared by /chat, /chat_stream and the WebSocket. Prompt
// is accepted as an alias of Message.
type chatRequest struct {
	Message         string   `json:"message"`
	Prompt          string   `json:"prompt"`
	ConversationID  string   `json:"conversationId"`
	ParentMessageID string   `json:"parentMessageId"`
	Temperature     *float32 `json:"temperature"`
	Model           string   `json:"model"`
	MaxTokens       int      `json:"max_tokens"`
	BasePrompt      string   `json:"base_prompt"`
}

func (c chatRequest) toChat(user string) chat.Request {
	msg := c.Message
	if msg == "" {
		msg = c.Prompt
	}
	return chat.Request{
		Message:         msg,
		ConversationID:  c.ConversationID,
		ParentMessageID: c.ParentMessageID,
		Model:           c.Model,
		Temperature:     c.Temperature,
		MaxTokens:       c.MaxTokens,
		BasePrompt:      c.BasePrompt,
		User:            user,
	}
}

type embeddingRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type userRequest struct {
	DisplayName string `json:"display_name"`
}

type rollbackRequest struct {
	Count int `json:"count"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "Hello World"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Users.Authenticate(req.Username, req.Password); err != nil {
		s.log.Info("login rejected", zap.String("user", req.Username))
		writeDetail(w, http.StatusUnauthorized, "Bad username or password")
		return
	}
	token, err := s.deps.Tokens.Issue(req.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user := userFrom(r.Context())
	s.log.Debug("chat", zap.String("user", user), zap.String("conversation_id", req.ConversationID))
	reply, err := s.deps.Chat.Ask(r.Context(), req.toChat(user))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	var req embeddingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	vec, err := s.deps.Chat.Embed(r.Context(), req.Text, req.Model)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]float32{"embedding": vec})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h, ok := s.deps.Chat.History(id)
	if !ok {
		s.writeError(w, chat.ErrUnknownConversation)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": id, "messages": h})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"conversations": s.deps.Chat.Conversations()})
}

func (s *Server) handleConversationLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.deps.Interactions.LoadConversation(id)
	if err != nil {
		s.writeError(w, fmt.Errorf("load interactions: %w", err))
		return
	}
	if events == nil {
		events = []storage.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": id, "interactions": events})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	s.deps.Chat.Reset(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	req := rollbackRequest{Count: 2}
	if !decodeBody(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	h, err := s.deps.Chat.Rollback(id, req.Count)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": id, "messages": h})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	events, err := s.deps.Interactions.LoadInteractions()
	if err != nil {
		s.writeError(w, fmt.Errorf("load interactions: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, analytics.AnalyzeDailyLogs(events, day))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]auth.User{"users": s.deps.Users.List()})
}

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user := auth.User{Username: strings.TrimSpace(r.PathValue("username")), DisplayName: req.DisplayName}
	if user.Username == "" {
		writeDetail(w, http.StatusBadRequest, "username is empty")
		return
	}
	if err := s.deps.Users.Upsert(user); err != nil {
		s.writeError(w, fmt.Errorf("save user: %w", err))
		return
	}
	s.log.Info("user allowed", zap.String("by", userFrom(r.Context())), zap.String("user", user.Username))
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := s.deps.Users.Remove(username); err != nil {
		s.writeError(w, fmt.Errorf("remove user: %w", err))
		return
	}
	s.log.Info("user removed", zap.String("by", userFrom(r.Context())), zap.String("user", username))
	w.WriteHeader(http.StatusNoContent)
}
