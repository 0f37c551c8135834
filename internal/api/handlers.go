package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/mattjoyce/lmcbridge/internal/mocap"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Connections:   s.connections.Counts(),
		Frames:        s.frames.Stats(),
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConnectionsResponse{Connections: s.connections.Snapshot()})
}

// handleLatestFrames returns the newest frame of every connection, or of the
// one named by ?connection=.
func (s *Server) handleLatestFrames(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("connection"); id != "" {
		frame, ok := s.frames.LatestFor(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, "no frame received from connection "+id)
			return
		}
		respondJSON(w, http.StatusOK, LatestFramesResponse{Frames: []*mocap.Frame{frame}})
		return
	}

	latest := s.frames.Latest()
	frames := make([]*mocap.Frame, 0, len(latest))
	for _, f := range latest {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Connection < frames[j].Connection })
	respondJSON(w, http.StatusOK, LatestFramesResponse{Frames: frames})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
