// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/log"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeServiceUnavailable(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Devices == nil {
		writeServiceUnavailable(w, errors.New("device manager not available"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.deps.Devices.List(),
		"scan":    s.deps.Devices.ScanStatus(),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Devices == nil {
		writeServiceUnavailable(w, errors.New("device manager not available"))
		return
	}
	d, err := s.deps.Devices.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	s.relayCommand(w, r, broker.TopicCommandScan, map[string]any{})
}

type startStreamRequest struct {
	Protocol string         `json:"protocol"`
	Params   map[string]any `json:"params"`
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.knownDevice(w, id) {
		return
	}
	var req startStreamRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	payload := map[string]any{}
	if req.Protocol != "" {
		payload["protocol"] = req.Protocol
	}
	if req.Params != nil {
		payload["params"] = req.Params
	}
	s.relayCommand(w, r, broker.TopicCommandStartStream(id), payload)
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.knownDevice(w, id) {
		return
	}
	s.relayCommand(w, r, broker.TopicCommandStopStream(id), map[string]any{})
}

func (s *Server) knownDevice(w http.ResponseWriter, id string) bool {
	if s.deps.Devices == nil {
		return true
	}
	if _, err := s.deps.Devices.Get(id); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func (s *Server) handleListPipelines(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Pipelines == nil {
		writeServiceUnavailable(w, errors.New("pipeline executor not available"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": s.deps.Pipelines.List()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Board == nil {
		writeServiceUnavailable(w, errors.New("status board not available"))
		return
	}
	snap, err := s.deps.Board.Snapshot(r.Context())
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// relayCommand publishes a command with a private reply topic and waits
// briefly for the reply. No reply in time means 202 Accepted.
func (s *Server) relayCommand(w http.ResponseWriter, r *http.Request, topic string, payload map[string]any) {
	if s.deps.Bus == nil {
		writeServiceUnavailable(w, errors.New("broker not available"))
		return
	}
	requestID := uuid.NewString()
	replyTo := "replies/api/" + requestID

	sub, err := s.deps.Bus.SubscribeChan(SenderID, replyTo, 1)
	if err != nil {
		writeServiceUnavailable(w, err)
		return
	}
	defer func() { _ = sub.Close() }()

	payload["reply_to"] = replyTo
	if err := s.deps.Bus.Publish(r.Context(), topic, payload, SenderID); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldTopic, topic).Msg("command relay failed")
		writeServiceUnavailable(w, err)
		return
	}

	reply, ok := waitReply(r.Context(), sub.C(), s.cfg.ReplyTimeout)
	if !ok {
		writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID, "status": "pending"})
		return
	}
	reply["request_id"] = requestID
	if accepted, _ := reply["ok"].(bool); !accepted {
		writeJSON(w, http.StatusConflict, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func waitReply(ctx context.Context, ch <-chan broker.Message, timeout time.Duration) (map[string]any, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, false
		}
		if msg.Payload == nil {
			return map[string]any{}, true
		}
		return msg.Payload, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
