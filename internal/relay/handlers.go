package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResult struct {
	Success bool   `json:"success"`
	User    string `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	valid, err := s.users.Verify(r.Context(), creds.Username, creds.Password)
	if err != nil {
		log.Errorf("verify %s: %v", creds.Username, err)
		respondJSON(w, http.StatusInternalServerError, authResult{Message: "internal error"})
		return
	}
	if !valid {
		respondJSON(w, http.StatusUnauthorized, authResult{Message: "invalid credentials"})
		return
	}
	respondJSON(w, http.StatusOK, authResult{Success: true, User: creds.Username})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	err := s.users.Create(r.Context(), creds.Username, creds.Password)
	switch {
	case errors.Is(err, ErrUserExists):
		respondJSON(w, http.StatusConflict, authResult{Message: "user already exists"})
	case err != nil:
		log.Errorf("register %s: %v", creds.Username, err)
		respondJSON(w, http.StatusInternalServerError, authResult{Message: "internal error"})
	default:
		log.Infof("registered %s", creds.Username)
		respondJSON(w, http.StatusCreated, authResult{Success: true, User: creds.Username})
	}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var creds credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&creds); err != nil {
		respondJSON(w, http.StatusBadRequest, authResult{Message: "invalid request body"})
		return credentials{}, false
	}
	creds.Username = strings.TrimSpace(creds.Username)
	creds.Password = strings.TrimSpace(creds.Password)
	if creds.Username == "" || creds.Password == "" {
		respondJSON(w, http.StatusBadRequest, authResult{Message: "username and password are required"})
		return credentials{}, false
	}
	return creds, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("write response: %v", err)
	}
}
