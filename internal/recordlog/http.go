package recordlog

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/scriptcue/internal/observe"
)

// Handler serves read access to stored recordings.
type Handler struct {
	store Store
}

// NewHandler returns a handler reading from store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Register adds GET /v1/recordings/{id} to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/recordings/{id}", h.get)
}

type lineJSON struct {
	Line   int       `json:"line"`
	Reason string    `json:"reason"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

type recordingJSON struct {
	ID         string     `json:"id"`
	Script     []string   `json:"script"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Transcript string     `json:"transcript"`
	Lines      []lineJSON `json:"lines"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	l, err := h.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "recording not found", http.StatusNotFound)
		return
	case err != nil:
		observe.Logger(r.Context()).Error("recordlog: get recording", "id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := recordingJSON{
		ID:         l.ID,
		Script:     l.ScriptLines,
		StartedAt:  l.StartedAt,
		Transcript: l.Transcript,
		Lines:      make([]lineJSON, 0, len(l.Lines)),
	}
	if l.Finished() {
		out.FinishedAt = &l.FinishedAt
	}
	for _, lc := range l.Lines {
		out.Lines = append(out.Lines, lineJSON(lc))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}
