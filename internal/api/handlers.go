// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/flow"
)

// FlowsResponse is the body of GET /api/v1/flows.
type FlowsResponse struct {
	Count int             `json:"count"`
	Flows []flow.Snapshot `json:"flows"`
}

// ActiveRequest is the JSON body of PUT /api/v1/active.
type ActiveRequest struct {
	Active *bool `json:"active"`
}

// TargetRequest is the JSON body of PUT /api/v1/target.
type TargetRequest struct {
	TargetAddr string `json:"target_addr"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bridge.Status())
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	flows := s.bridge.Flows()
	if flows == nil {
		flows = []flow.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, FlowsResponse{Count: len(flows), Flows: flows})
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	if s.traffic == nil {
		s.writeError(w, http.StatusServiceUnavailable, "traffic collector not running", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.traffic.Stats())
}

// handleSetActive accepts {"active": bool} or a bare 0/1/true/false body.
func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var active bool
	if bytes.HasPrefix(body, []byte("{")) {
		var req ActiveRequest
		if err := json.Unmarshal(body, &req); err != nil || req.Active == nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		active = *req.Active
	} else {
		active, err = strconv.ParseBool(string(body))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Expected 0, 1, true or false", err)
			return
		}
	}

	if err := s.bridge.SetActive(active); err != nil {
		s.writeError(w, statusFor(err), "Failed to set active", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.bridge.Status())
}

// handleSetTarget accepts {"target_addr": "a.b.c.d"} or a bare address.
func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	addr := string(body)
	if bytes.HasPrefix(body, []byte("{")) {
		var req TargetRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		addr = req.TargetAddr
	}

	if err := s.bridge.SetTargetAddr(addr); err != nil {
		s.writeError(w, statusFor(err), "Failed to set target address", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.bridge.Status())
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}

// writeJSON writes data with a MAC of the exact body bytes.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.WithError(err).Error("encode response")
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	body = append(body, '\n')

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(MACHeader, hex.EncodeToString(s.bridge.GlobalKeyMAC(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{
		Error:  message,
		Status: status,
	}
	if err != nil {
		resp.Details = err.Error()
		if k := errors.GetKind(err); k != errors.KindUnknown {
			resp.Kind = k.String()
		}
	}
	s.writeJSON(w, status, resp)
}

var _ Bridge = (*bridge.Controller)(nil)
