package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ernie/fortcore/internal/auth"
	"github.com/ernie/fortcore/internal/bus"
	"github.com/ernie/fortcore/internal/game"
	"github.com/ernie/fortcore/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux       *http.ServeMux
	store     *storage.Store
	core      *game.Core
	wsHub     *WebSocketHub
	auth      *auth.Service
	staticDir string
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, core *game.Core, authService *auth.Service, staticDir string) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		store:     store,
		core:      core,
		wsHub:     NewWebSocketHub(),
		auth:      authService,
		staticDir: staticDir,
	}

	// API routes
	r.mux.HandleFunc("GET /api/status", r.handleGetStatus)
	r.mux.HandleFunc("GET /api/slots", r.handleGetSlots)

	r.mux.HandleFunc("GET /api/players", r.handleGetPlayers)
	r.mux.HandleFunc("GET /api/players/{uuid}", r.handleGetPlayer)
	r.mux.HandleFunc("GET /api/players/{uuid}/matches", r.handleGetPlayerMatches)

	r.mux.HandleFunc("GET /api/matches", r.handleGetMatches)

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /api/auth/logout", r.handleLogout)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)
	r.mux.HandleFunc("POST /api/auth/change-password", r.requireAuth(r.handleChangePassword))

	// User management routes (admin only)
	r.mux.HandleFunc("GET /api/users", r.requireAdmin(r.handleListUsers))
	r.mux.HandleFunc("POST /api/users", r.requireAdmin(r.handleCreateUser))
	r.mux.HandleFunc("DELETE /api/users/{username}", r.requireAdmin(r.handleDeleteUser))
	r.mux.HandleFunc("POST /api/users/{username}/reset-password", r.requireAdmin(r.handleResetUserPassword))

	// Admin operations against the live core
	r.mux.HandleFunc("POST /api/flush", r.requireAdmin(r.handleFlush))

	// WebSocket endpoint
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	// Static files - only serve if staticDir is configured
	if staticDir != "" {
		r.mux.HandleFunc("GET /", r.handleStatic)
	}

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// StartWebSocketHub starts broadcasting bus events to WebSocket clients
func (r *Router) StartWebSocketHub(b *bus.Bus) error {
	go r.wsHub.Run()

	_, err := b.Subscribe(bus.SubjectAll, r.wsHub.Broadcast)
	return err
}

// handleStatic serves static files from the configured directory
// For SPA support, serves index.html for any path that doesn't match a file
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	path := filepath.Clean(req.URL.Path)
	if path == "/" {
		path = "/index.html"
	}

	fullPath := filepath.Join(r.staticDir, path)

	// Security: ensure the path is within staticDir
	absStaticDir, _ := filepath.Abs(r.staticDir)
	absPath, _ := filepath.Abs(fullPath)
	if !strings.HasPrefix(absPath, absStaticDir) {
		http.NotFound(w, req)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		// SPA fallback: serve index.html for unknown paths
		fullPath = filepath.Join(r.staticDir, "index.html")
		if _, err := os.Stat(fullPath); err != nil {
			http.NotFound(w, req)
			return
		}
	}

	http.ServeFile(w, req, fullPath)
}
