/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the orchestrator to the presentation layer over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/logbuffer"
	"github.com/friendsincode/cueloop/internal/orchestrator"
	"github.com/friendsincode/cueloop/internal/playlist"
	"github.com/friendsincode/cueloop/internal/provider"
	"github.com/friendsincode/cueloop/internal/segment"
)

const maxBodyBytes = 1 << 20

var errMalformedBody = errors.New("malformed request body")

// API exposes HTTP handlers.
type API struct {
	engine    *orchestrator.Engine
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(engine *orchestrator.Engine, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		engine: engine,
		bus:    bus,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// SetLogBuffer enables the recent log endpoints.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logBuffer = buf
}

type playlistResponse struct {
	Segments     []segment.Entry `json:"segments"`
	CurrentIndex int             `json:"current_index"`
	LoopEnabled  bool            `json:"loop_enabled"`
}

type moveRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

type checkRequest struct {
	segment.Entry
	Exclude *int `json:"exclude,omitempty"`
}

type seekRequest struct {
	Seconds *float64 `json:"seconds"`
}

type volumeRequest struct {
	Volume *int `json:"volume"`
}

type settingsRequest struct {
	AutoAdvance        *bool `json:"auto_advance"`
	TransitionsEnabled *bool `json:"transitions_enabled"`
	FadeEnabled        *bool `json:"fade_enabled"`
}

type validationResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems"`
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", a.handleStatus)

		r.Route("/playlist", func(r chi.Router) {
			r.Get("/", a.handlePlaylistGet)
			r.Post("/", a.handlePlaylistAdd)
			r.Delete("/", a.handlePlaylistClear)
			r.Post("/move", a.handlePlaylistMove)
			r.Post("/check", a.handlePlaylistCheck)
			r.Post("/loop", a.handlePlaylistLoop)
			r.Get("/export", a.handlePlaylistExport)
			r.Post("/import", a.handlePlaylistImport)

			r.Route("/{index}", func(r chi.Router) {
				r.Put("/", a.handlePlaylistUpdate)
				r.Delete("/", a.handlePlaylistRemove)
				r.Post("/select", a.handlePlaylistSelect)
			})
		})

		r.Route("/player", func(r chi.Router) {
			r.Post("/seek", a.handlePlayerSeek)
			r.Post("/volume", a.handlePlayerVolume)
			r.Post("/{action}", a.handlePlayerAction)
		})

		r.Put("/settings", a.handleSettings)

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", a.handleLogs)
			r.Get("/stats", a.handleLogStats)
		})
	})

	r.Get("/ws/events", a.handleEvents)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *API) handlePlaylistGet(w http.ResponseWriter, r *http.Request) {
	segs := a.engine.Playlist()
	resp := playlistResponse{
		Segments: make([]segment.Entry, 0, len(segs)),
	}
	for _, seg := range segs {
		resp.Segments = append(resp.Segments, seg.Entry())
	}
	st := a.engine.Status()
	resp.CurrentIndex = st.CurrentIndex
	resp.LoopEnabled = st.LoopEnabled
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePlaylistAdd(w http.ResponseWriter, r *http.Request) {
	c, ok := a.decodeSegment(w, r, "add")
	if !ok {
		return
	}
	seg, err := a.engine.Add(c)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seg.Entry())
}

func (a *API) handlePlaylistUpdate(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	c, ok := a.decodeSegment(w, r, "update")
	if !ok {
		return
	}
	seg, err := a.engine.Update(index, c)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg.Entry())
}

// decodeSegment reads a segment body in its export shape, so the same rules
// apply as for imported entries. A field of the wrong JSON type is reported
// alongside any other validation problem; either way the failure goes
// through the engine and is announced like any failed operation.
func (a *API) decodeSegment(w http.ResponseWriter, r *http.Request, op string) (segment.Candidate, bool) {
	var entry segment.Entry
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&entry)
	if err == nil {
		return segment.CandidateFromEntry(entry), true
	}

	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) || typeErr.Field == "" {
		a.writeEngineError(w, a.engine.Reject(op, fmt.Errorf("%w: %v", errMalformedBody, err)))
		return segment.Candidate{}, false
	}
	// The decoder keeps going past a type mismatch, so the rest of entry is
	// still worth validating.
	problems := []string{typeProblem(typeErr)}
	if res := segment.Validate(segment.CandidateFromEntry(entry)); !res.OK {
		problems = append(problems, res.Problems...)
	}
	a.writeEngineError(w, a.engine.Reject(op, &segment.ValidationError{Problems: problems}))
	return segment.Candidate{}, false
}

func typeProblem(e *json.UnmarshalTypeError) string {
	t := e.Type
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return fmt.Sprintf("%s has the wrong type", e.Field)
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return fmt.Sprintf("%s must be a number", e.Field)
	case reflect.Bool:
		return fmt.Sprintf("%s must be a boolean", e.Field)
	case reflect.String:
		return fmt.Sprintf("%s must be a string", e.Field)
	default:
		return fmt.Sprintf("%s has the wrong type", e.Field)
	}
}

func (a *API) handlePlaylistRemove(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	if err := a.engine.Remove(index); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlaylistSelect(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	if err := a.engine.Select(index); err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *API) handlePlaylistMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.From == nil || req.To == nil {
		writeError(w, http.StatusBadRequest, "missing_required_fields")
		return
	}
	if err := a.engine.Move(*req.From, *req.To); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlaylistCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	exclude := -1
	if req.Exclude != nil {
		exclude = *req.Exclude
	}
	c := segment.CandidateFromEntry(req.Entry)
	res := segment.Validate(c)
	if !res.OK {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Error: "validation_failed", Problems: res.Problems})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"video_id":  res.ResolvedID,
		"duplicate": a.engine.IsDuplicate(c, exclude),
	})
}

func (a *API) handlePlaylistClear(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Clear(); err != nil {
		a.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlaylistLoop(w http.ResponseWriter, r *http.Request) {
	enabled, err := a.engine.ToggleLoop()
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"loop_enabled": enabled})
}

func (a *API) handlePlaylistExport(w http.ResponseWriter, r *http.Request) {
	doc, err := a.engine.ExportPlaylist()
	if err != nil {
		a.writeEngineError(w, err)
		return
	}

	name := "playlist.json"
	contentType := "application/json"
	if r.URL.Query().Get("format") == "yaml" {
		name = "playlist.yaml"
		contentType = "application/yaml"
	}
	data, err := playlist.EncodeDocumentFile(name, doc)
	if err != nil {
		a.logger.Error().Err(err).Msg("encode export")
		writeError(w, http.StatusInternalServerError, "export_failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) handlePlaylistImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	name := "import.json"
	if ct := r.Header.Get("Content-Type"); ct == "application/yaml" || ct == "application/x-yaml" {
		name = "import.yaml"
	}
	doc, err := playlist.DecodeDocumentFile(name, data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_document")
		return
	}

	report, err := a.engine.ImportPlaylist(*doc)
	switch {
	case errors.Is(err, playlist.ErrMalformedDocument):
		writeError(w, http.StatusBadRequest, "malformed_document")
	case errors.Is(err, playlist.ErrNoValidEntries):
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Error: "no_valid_entries", Problems: report.Problems})
	case err != nil:
		a.writeEngineError(w, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (a *API) handlePlayerAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch chi.URLParam(r, "action") {
	case "play":
		err = a.engine.Play()
	case "pause":
		err = a.engine.Pause()
	case "toggle":
		err = a.engine.Toggle()
	case "stop":
		err = a.engine.Stop()
	case "next":
		err = a.engine.Next()
	case "previous":
		err = a.engine.Previous()
	default:
		writeError(w, http.StatusNotFound, "unknown_action")
		return
	}
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *API) handlePlayerSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Seconds == nil || *req.Seconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_seconds")
		return
	}
	if err := a.engine.Seek(*req.Seconds); err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *API) handlePlayerVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, "missing_required_fields")
		return
	}
	if err := a.engine.SetVolume(provider.Clamp(*req.Volume)); err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	steps := []struct {
		value *bool
		apply func(bool) error
	}{
		{req.AutoAdvance, a.engine.SetAutoAdvance},
		{req.TransitionsEnabled, a.engine.SetTransitionsEnabled},
		{req.FadeEnabled, a.engine.SetFadeEnabled},
	}
	for _, step := range steps {
		if step.value == nil {
			continue
		}
		if err := step.apply(*step.value); err != nil {
			a.writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, a.engine.Status())
}

// writeEngineError maps orchestrator failures onto HTTP status codes.
func (a *API) writeEngineError(w http.ResponseWriter, err error) {
	var verr *segment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Error: "validation_failed", Problems: verr.Problems})
	case errors.Is(err, errMalformedBody):
		writeError(w, http.StatusBadRequest, "invalid_json")
	case errors.Is(err, playlist.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate_segment")
	case errors.Is(err, orchestrator.ErrIndexOutOfRange):
		writeError(w, http.StatusNotFound, "index_out_of_range")
	case errors.Is(err, orchestrator.ErrEmptyPlaylist):
		writeError(w, http.StatusConflict, "playlist_empty")
	case errors.Is(err, orchestrator.ErrNothingLoaded):
		writeError(w, http.StatusConflict, "nothing_loaded")
	case errors.Is(err, orchestrator.ErrNoNext):
		writeError(w, http.StatusConflict, "no_next_segment")
	case errors.Is(err, orchestrator.ErrNoPrevious):
		writeError(w, http.StatusConflict, "no_previous_segment")
	case errors.Is(err, provider.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "player_not_ready")
	case errors.Is(err, orchestrator.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "engine_stopped")
	default:
		a.logger.Error().Err(err).Msg("engine operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return 0, false
	}
	return index, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
