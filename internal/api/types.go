package api

import (
	"github.com/mattjoyce/lmcbridge/internal/mocap"
	"github.com/mattjoyce/lmcbridge/internal/registry"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string          `json:"status"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Connections   registry.Counts `json:"connections"`
	Frames        mocap.Stats     `json:"frames"`
}

// ConnectionsResponse is returned by GET /connections.
type ConnectionsResponse struct {
	Connections []registry.Connection `json:"connections"`
}

// LatestFramesResponse is returned by GET /frames/latest.
type LatestFramesResponse struct {
	Frames []*mocap.Frame `json:"frames"`
}
