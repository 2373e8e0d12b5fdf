package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/D1992S/bieznia-sub002/internal/assistant"
	"github.com/D1992S/bieznia-sub002/internal/models"
)

type Handler struct {
	engine *assistant.Engine
	logger *zap.Logger
}

func NewHandler(engine *assistant.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var input models.AskInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if input.ChannelID == "" || input.Question == "" {
		http.Error(w, "channel_id and question are required", http.StatusBadRequest)
		return
	}

	result, err := h.engine.Ask(input)
	if err != nil {
		h.logger.Error("ask failed",
			zap.String("channelId", input.ChannelID),
			zap.Error(err))
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, result)
}

func (h *Handler) HandleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := h.engine.ListThreads(models.ThreadListInput{
		ChannelID: r.URL.Query().Get("channel_id"),
		Limit:     limit,
	})
	if err != nil {
		h.logger.Error("failed to list threads", zap.Error(err))
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, result)
}

func (h *Handler) HandleThreadMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		http.Error(w, "Query parameter 'thread_id' is required", http.StatusBadRequest)
		return
	}

	result, err := h.engine.GetThreadMessages(models.ThreadMessagesInput{ThreadID: threadID})
	if err != nil {
		h.logger.Error("failed to get thread messages",
			zap.String("threadId", threadID),
			zap.Error(err))
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, result)
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var typed *assistant.Error
	if !errors.As(err, &typed) {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch typed.Code {
	case assistant.CodeChannelNotFound, assistant.CodeThreadNotFound:
		status = http.StatusNotFound
	case assistant.CodeThreadChannelMismatch:
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(typed); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}
