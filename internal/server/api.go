package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"jarvis/internal/assistant"
	"jarvis/internal/memory"
	"jarvis/internal/voice"
)

const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeAIUnavailable = "AI_UNAVAILABLE"
	CodeAIError       = "AI_ERROR"
	CodeVoiceError    = "VOICE_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
)

const (
	maxJSONBody   = 1 << 20
	maxAudioBytes = 32 << 20
)

const transcribeFailed = "Could not transcribe audio"

type chatRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Status    string `json:"status"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

type sentimentRequest struct {
	Text string `json:"text"`
}

type historyResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []memory.Turn `json:"turns"`
}

type healthResponse struct {
	Status             string `json:"status"`
	AIAvailable        bool   `json:"ai_available"`
	SentimentAvailable bool   `json:"sentiment_available"`
	VoiceAvailable     bool   `json:"voice_available"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to JARVIS AI Assistant API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:             "healthy",
		AIAvailable:        s.gen.Available(),
		SentimentAvailable: s.gen.SentimentAvailable(),
		VoiceAvailable:     s.voice != nil,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid JSON body")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "Prompt is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	reply := s.Converse(r.Context(), req.SessionID, prompt)
	if !reply.OK() {
		status, code := replyStatus(reply.Kind)
		writeJSON(w, status, chatResponse{
			Status:    "error",
			SessionID: req.SessionID,
			Error:     reply.Text,
			ErrorCode: code,
		})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Status:    "success",
		Text:      reply.Text,
		SessionID: req.SessionID,
	})
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	var req sentimentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "Text is required")
		return
	}
	writeJSON(w, http.StatusOK, s.gen.AnalyzeSentiment(r.Context(), req.Text))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Turns: s.history(id)})
}

func (s *Server) handleDropSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.sessions.Drop(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "session_id": id})
}

func (s *Server) handleProcessVoice(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		writeError(w, http.StatusServiceUnavailable, CodeVoiceError, "Voice processing is not available")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "audio_file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "Could not read audio_file")
		return
	}

	text, err := s.voice.ProcessUpload(r.Context(), data, header.Filename)
	if err != nil {
		level := s.logger.Error
		if errors.Is(err, voice.ErrNoSpeech) {
			level = s.logger.Warn
		}
		level("Failed to process voice", "file", header.Filename, "bytes", len(data), "err", err)
		writeError(w, http.StatusUnprocessableEntity, CodeVoiceError, transcribeFailed)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Status: "success", Text: text})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, CodeInternal, "System metrics are not available")
		return
	}
	snap, err := s.metrics.Sample(r.Context())
	if err != nil {
		s.logger.Error("Failed to sample system", "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Could not read system metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func replyStatus(kind assistant.ErrorKind) (int, string) {
	switch kind {
	case assistant.KindUnavailable:
		return http.StatusServiceUnavailable, CodeAIUnavailable
	case assistant.KindTimeout:
		return http.StatusGatewayTimeout, CodeAIError
	default:
		return http.StatusBadGateway, CodeAIError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, chatResponse{Status: "error", Error: msg, ErrorCode: code})
}
