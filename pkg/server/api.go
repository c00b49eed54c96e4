package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/types"
	"github.com/yetiwatch/yetiwatch/pkg/yeti"
)

type statusResponse struct {
	Snapshot types.DeviceSnapshot `json:"snapshot"`
	Stale    bool                 `json:"stale"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.ctrl.Read()
	if !ok {
		writeJSONError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, statusResponse{Snapshot: rd.Snapshot, Stale: rd.Stale})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := s.ctrl.Refresh(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "refresh failed", slog.Any("error", err))
		writeJSONError(w, "device refresh failed: "+err.Error(), deviceErrorStatusCode(err))
		return
	}
	writeJSON(w, statusResponse{Snapshot: snap})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		ID    string      `json:"id"`
		Field string      `json:"field"`
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Field == "" {
		writeJSONError(w, "field is required", http.StatusBadRequest)
		return
	}
	value, err := coerceValue(req.Field, req.Value)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	out := s.ctrl.Dispatch(ctx, types.CommandRequest{ID: req.ID, Field: req.Field, Value: value})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(outcomeStatusCode(out))
	if err := json.NewEncoder(w).Encode(out); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := s.ctrl.DeviceInfo(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "device info failed", slog.Any("error", err))
		writeJSONError(w, "device info failed: "+err.Error(), deviceErrorStatusCode(err))
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	net, ok := s.ctrl.Network()
	if !ok {
		writeJSONError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, net)
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.Energy())
}

// coerceValue normalizes the JSON value for a field to the device's integer
// representation. Port toggles accept the human spellings, everything else
// must be an integer.
func coerceValue(field string, raw interface{}) (int, error) {
	switch field {
	case types.FieldACPort, types.FieldV12Port, types.FieldUSBPort, types.FieldBacklight:
		return types.ParseToggle(raw)
	}
	switch n := raw.(type) {
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	case string:
		if v, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("value for %s must be an integer", field)
}

func outcomeStatusCode(out types.CommandOutcome) int {
	switch out.Status {
	case types.OutcomeApplied:
		return http.StatusOK
	case types.OutcomeRejected:
		if out.Reason == types.RejectTransportFailure {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	case types.OutcomeTimedOut:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func deviceErrorStatusCode(err error) int {
	if yeti.IsKind(err, yeti.KindTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
