// internal/server/server.go - HTTP surface for tile serving
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/tilecraft/tilecraft/internal"
	"github.com/tilecraft/tilecraft/internal/service"
)

const tileContentType = "application/x-protobuf"

// Server serves tiles and metadata over HTTP.
type Server struct {
	svc             *service.Service
	bind            string
	port            int
	cacheControlAge int
	viewer          bool
}

// Config parameterizes the HTTP server.
type Config struct {
	Bind            string
	Port            int
	CacheControlAge int
	Viewer          bool
}

// New creates the server around a connected service.
func New(svc *service.Service, cfg Config) *Server {
	return &Server{
		svc:             svc,
		bind:            cfg.Bind,
		port:            cfg.Port,
		cacheControlAge: cfg.CacheControlAge,
		viewer:          cfg.Viewer,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/index.json", s.handleIndex).Methods("GET", "HEAD")
	r.HandleFunc("/{tileset}.style.json", s.handleStyleJSON).Methods("GET", "HEAD")
	r.HandleFunc("/{tileset}.json", s.handleTileJSON).Methods("GET", "HEAD")
	r.HandleFunc("/{tileset}/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.pbf", s.handleTile).Methods("GET", "HEAD")
	r.HandleFunc("/", s.handleRoot).Methods("GET", "HEAD")
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	return cors.AllowAll().Handler(r)
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.bind, s.port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Infof("Serving tiles at http://%s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleTile serves one tile: 204 for empty tiles, 404 outside zoom
// bounds, 500 on fatal errors.
func (s *Server) handleTile(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	ts := s.svc.TilesetByName(vars["tileset"])
	if ts == nil {
		http.Error(w, "unknown tileset", http.StatusNotFound)
		return
	}
	z64, err := strconv.ParseUint(vars["z"], 10, 8)
	if err != nil {
		http.Error(w, "invalid zoom", http.StatusNotFound)
		return
	}
	z := uint8(z64)
	x64, err := strconv.ParseUint(vars["x"], 10, 32)
	if err != nil {
		http.Error(w, "invalid tile column", http.StatusNotFound)
		return
	}
	y64, err := strconv.ParseUint(vars["y"], 10, 32)
	if err != nil {
		http.Error(w, "invalid tile row", http.StatusNotFound)
		return
	}
	x, y := uint32(x64), uint32(y64)

	if !s.svc.Grid.ValidZoom(z) || !ts.InZoomRange(z, s.svc.Grid.MaxZoom()) {
		http.Error(w, "zoom level out of range", http.StatusNotFound)
		return
	}
	// Row counts are identical in XYZ and TMS addressing
	if !s.svc.Grid.Contains(x, y, z) {
		http.Error(w, "tile out of range", http.StatusNotFound)
		return
	}

	data, err := s.svc.TileCached(req.Context(), ts, x, y, z)
	if err != nil {
		status := http.StatusInternalServerError
		if appErr, ok := err.(*internal.Error); ok && appErr.Retryable() {
			status = http.StatusServiceUnavailable
		}
		log.Errorf("Tile %s/%d/%d/%d: %v", ts.Name, z, x, y, err)
		http.Error(w, "tile build failed", status)
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", tileContentType)
	s.setCacheControl(w)
	if acceptsGzip(req) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(data)
		return
	}
	plain, err := service.GunzipBytes(data)
	if err != nil {
		log.Errorf("Decompressing cached tile: %v", err)
		http.Error(w, "tile decode failed", http.StatusInternalServerError)
		return
	}
	w.Write(plain)
}

func (s *Server) handleTileJSON(w http.ResponseWriter, req *http.Request) {
	ts := s.svc.TilesetByName(mux.Vars(req)["tileset"])
	if ts == nil {
		http.Error(w, "unknown tileset", http.StatusNotFound)
		return
	}
	doc, err := s.svc.TileJSON(s.baseURL(req), ts)
	if err != nil {
		http.Error(w, "metadata failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, doc)
}

func (s *Server) handleStyleJSON(w http.ResponseWriter, req *http.Request) {
	ts := s.svc.TilesetByName(mux.Vars(req)["tileset"])
	if ts == nil {
		http.Error(w, "unknown tileset", http.StatusNotFound)
		return
	}
	doc, err := s.svc.StyleJSON(s.baseURL(req), ts)
	if err != nil {
		http.Error(w, "style failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, doc)
}

func (s *Server) handleIndex(w http.ResponseWriter, req *http.Request) {
	doc, err := s.svc.ServiceMetadata()
	if err != nil {
		http.Error(w, "metadata failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, doc)
}

func (s *Server) handleRoot(w http.ResponseWriter, req *http.Request) {
	if !s.viewer {
		http.Error(w, "viewer disabled; see /index.json", http.StatusNotFound)
		return
	}
	// Viewer assets are not embedded; point at the service metadata
	http.Redirect(w, req, "/index.json", http.StatusFound)
}

func (s *Server) writeJSON(w http.ResponseWriter, doc interface{}) {
	w.Header().Set("Content-Type", "application/json")
	s.setCacheControl(w)
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		log.Warnf("Writing JSON response: %v", err)
	}
}

func (s *Server) setCacheControl(w http.ResponseWriter) {
	if s.cacheControlAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", s.cacheControlAge))
	}
}

func (s *Server) baseURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, req.Host)
}

func acceptsGzip(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept-Encoding"), "gzip")
}
