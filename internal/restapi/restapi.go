// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package restapi implements the agent's CORS-enabled REST surface:
// POST /api/machine and GET /api/machine/:id, both gated on a bearer
// token verified against the auth service.
//
// Grounded on the teacher's cmd/server/main.go ServeMux pattern
// routing and auth.Middleware.RequireAuthFunc wrapping idiom.
package restapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/orcabot/container-agent/internal/authverify"
	"github.com/orcabot/container-agent/internal/orchestrator"
)

const restapiRevision = "restapi-v1-machine-routes"

func init() {
	log.Printf("[restapi] REVISION: %s loaded", restapiRevision)
}

// Server wires the /api/machine* routes to an orchestrator future.
type Server struct {
	orchestrator *orchestrator.Future
	authVerify   *authverify.Verifier
}

// New creates a restapi.Server.
func New(orch *orchestrator.Future, authVerify *authverify.Verifier) *Server {
	return &Server{orchestrator: orch, authVerify: authVerify}
}

// Register adds this server's routes onto mux, CORS-wrapped.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/machine", cors(s.requireAuth(s.handleCreateMachine)))
	mux.HandleFunc("OPTIONS /api/machine", cors(noop))
	mux.HandleFunc("GET /api/machine/{id}", cors(s.requireAuth(s.handleGetMachine)))
	mux.HandleFunc("OPTIONS /api/machine/{id}", cors(noop))
}

func noop(w http.ResponseWriter, r *http.Request) {}

func cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next(w, r)
	}
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		ok, err := s.authVerify.Verify(token)
		if err != nil || !ok {
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	client, err := s.orchestrator.Resolve()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "orchestrator unavailable: "+err.Error())
		return
	}

	machineID, err := client.CreateMachine(orchestrator.MachineSpec{}, bearerToken(r))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create machine: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"machine_id": machineID})
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	client, err := s.orchestrator.Resolve()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "orchestrator unavailable: "+err.Error())
		return
	}

	machine, err := client.GetMachineStatus(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "machine not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"machine": machine,
	})
}

func writeJSONError(w http.ResponseWriter, status int, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"details": details,
	})
}
