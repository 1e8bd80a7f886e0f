package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/session"
)

// maxAudioChunk caps a single audio upload. Clients are expected to stream
// small frames, not whole recordings.
const maxAudioChunk = 1 << 20

// transcriptWord is the JSON shape of one committed word.
type transcriptWord struct {
	ID      string `json:"id"`
	Channel int    `json:"channel"`
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	State   string `json:"state"`
}

// registerSessionRoutes adds the session lifecycle and transcript API.
func (a *App) registerSessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", a.handleOpenSession)
	mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleCloseSession)
	mux.HandleFunc("GET /v1/sessions/{id}/transcript", a.handleTranscript)
	mux.HandleFunc("POST /v1/sessions/{id}/audio", a.handleAudio)
}

func (a *App) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	if _, err := a.manager.Open(r.Context(), body.ID); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, session.ErrSessionExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": body.ID})
}

func (a *App) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	ids := a.manager.IDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (a *App) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.manager.Close(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	s, ok := a.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrSessionNotFound)
		return
	}

	words := s.Words()
	out := make([]transcriptWord, 0, len(words))
	for _, word := range words {
		out = append(out, transcriptWord{
			ID:      word.ID,
			Channel: word.Channel,
			Text:    word.Text,
			StartMS: word.StartMS,
			EndMS:   word.EndMS,
			State:   word.State.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"words": out})
}

func (a *App) handleAudio(w http.ResponseWriter, r *http.Request) {
	s, ok := a.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrSessionNotFound)
		return
	}

	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioChunk))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("read audio chunk: %w", err))
		return
	}
	if len(chunk) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty audio chunk"))
		return
	}

	if err := s.SendAudio(chunk); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("forward audio: %w", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
