// Package credapi exposes the credential store over an authenticated
// HTTP JSON API, for provisioning tooling and for mail frontends that
// keep their user database on a separate host.
package credapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/willowmail/willow/credential"
	"github.com/willowmail/willow/logger"
)

// Server represents the credential HTTP API server
type Server struct {
	name         string
	addr         string
	apiKey       string
	allowedHosts []string
	creds        credential.Store
	server       *http.Server
}

// ServerOptions holds configuration options for the credential API server
type ServerOptions struct {
	Name         string
	Addr         string
	APIKey       string
	AllowedHosts []string
}

// New creates a new credential API server
func New(creds credential.Store, options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for credential API server")
	}

	s := &Server{
		name:         options.Name,
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		creds:        creds,
	}

	return s, nil
}

// Start creates the server and runs it until ctx is cancelled
func Start(ctx context.Context, creds credential.Store, options ServerOptions, errChan chan error) {
	server, err := New(creds, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create credential API server: %w", err)
		return
	}

	logger.Info("Credential API server listening", "name", options.Name, "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("credential API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Credential API: shutting down", "name", s.name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Credential API: error shutting down", "name", s.name, "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)
	router.Use(s.authMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/auth", s.handleAuthenticate).Methods("POST")
	v1.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	v1.HandleFunc("/users/{username}", s.handleUpdateUser).Methods("PUT")
	v1.HandleFunc("/users/{username}", s.handleDeleteUser).Methods("DELETE")
	v1.HandleFunc("/users/{username}/exists", s.handleUserExists).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("Credential API request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			// CIDR blocks
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil && cidr.Contains(ip) {
						allowed = true
						break
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Credential API: error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Request types

type AuthenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UpdateUserRequest struct {
	Password string `json:"password"`
}

// Handler functions

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	ok, err := s.creds.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		logger.Error("Credential API: error authenticating user", "username", req.Username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to authenticate user")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"username":      req.Username,
		"authenticated": ok,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	created, err := s.creds.CreateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		logger.Error("Credential API: error creating user", "username", req.Username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	if !created {
		s.writeError(w, http.StatusConflict, "User already exists")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"username": req.Username,
		"message":  "User created successfully",
	})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	vars := mux.Vars(r)
	username := vars["username"]

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "Password is required")
		return
	}

	updated, err := s.creds.UpdateUser(r.Context(), username, req.Password)
	if err != nil {
		logger.Error("Credential API: error updating user", "username", username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}
	if !updated {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"username": username,
		"message":  "Password updated successfully",
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	username := vars["username"]

	deleted, err := s.creds.DeleteUser(r.Context(), username)
	if err != nil {
		logger.Error("Credential API: error deleting user", "username", username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"username": username,
		"message":  "User deleted successfully",
	})
}

func (s *Server) handleUserExists(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	username := vars["username"]

	exists, err := s.creds.UserExists(r.Context(), username)
	if err != nil {
		logger.Error("Credential API: error checking user existence", "username", username, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to check user existence")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": username,
		"exists":   exists,
	})
}
