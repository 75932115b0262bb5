package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/voxconsole/internal/diagnostics"
	"github.com/MrWong99/voxconsole/internal/observe"
	"github.com/MrWong99/voxconsole/internal/session"
	"github.com/MrWong99/voxconsole/pkg/provider/vad"
)

// endTimeout bounds the wait for session goroutines in POST /v1/session/end.
const endTimeout = 5 * time.Second

// maxBody caps request bodies.
const maxBody = 4 << 10

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.State())
}

type sessionResponse struct {
	State session.State `json:"state"`
	Error string        `json:"error,omitempty"`
	Kind  string        `json:"kind,omitempty"`
}

// handleStart answers 409 while a session is active and 502 when the start
// failed; the body carries the resulting state either way.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// The handshake outlives a client that hangs up mid-request.
	ctx := context.WithoutCancel(r.Context())
	err := s.sess.Start(ctx)

	resp := sessionResponse{State: s.sess.State()}
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionActive):
		status = http.StatusConflict
		resp.Error = err.Error()
	default:
		status = http.StatusBadGateway
		resp.Error = err.Error()
		if resp.State.Diagnostics.LastErrorKind != "" {
			resp.Kind = resp.State.Diagnostics.LastErrorKind
		}
		observe.Logger(r.Context()).Warn("console: session start failed", "err", err)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), endTimeout)
	defer cancel()

	resp := sessionResponse{}
	if err := s.sess.End(ctx); err != nil {
		resp.Error = err.Error()
		observe.Logger(r.Context()).Warn("console: session end incomplete", "err", err)
	}
	resp.State = s.sess.State()
	writeJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	Diagnostics diagnostics.Snapshot `json:"diagnostics"`
	Error       string               `json:"error,omitempty"`
}

// handleRefresh always answers 200; a failed probe is reported in the body
// next to the unchanged snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sess.RefreshDiagnostics(r.Context())
	resp := refreshResponse{Diagnostics: snap}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type vadResponse struct {
	vad.Settings
	EffectiveMode vad.Mode `json:"effective_mode"`
}

func (s *Server) vadState() vadResponse {
	return vadResponse{Settings: s.vad.Get(), EffectiveMode: s.vad.Effective()}
}

func (s *Server) handleGetVAD(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.vadState())
}

// vadUpdate is the PUT /v1/vad body. Absent fields are left unchanged.
type vadUpdate struct {
	Mode      *string  `json:"mode"`
	Enabled   *bool    `json:"enabled"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handlePutVAD(w http.ResponseWriter, r *http.Request) {
	var req vadUpdate
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("console: decode vad update: %w", err))
		return
	}

	var mode vad.Mode
	if req.Mode != nil {
		m, err := vad.ParseMode(*req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		mode = m
	}

	ctx := r.Context()
	if mode != "" {
		if err := s.vad.SetMode(ctx, mode); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := s.vad.SetEnabled(ctx, *req.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if req.Threshold != nil {
		if _, err := s.vad.SetThreshold(ctx, *req.Threshold); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	resp := s.vadState()
	observe.Logger(ctx).Info("console: vad settings updated",
		"mode", resp.Mode,
		"enabled", resp.Enabled,
		"threshold", resp.Threshold,
		"effective_mode", resp.EffectiveMode,
	)
	writeJSON(w, http.StatusOK, resp)
}
