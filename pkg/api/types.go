package api

import (
	"github.com/ssargent/flashring/pkg/eventlog"
	"github.com/ssargent/flashring/pkg/ring"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// EraseRequest asks for a manual erase of sectors starting at an absolute
// device address.
type EraseRequest struct {
	Address uint32 `json:"address"`
	Sectors int    `json:"sectors"`
}

// RegionResponse describes one region, with a full scan when requested
type RegionResponse struct {
	Info    ring.Info     `json:"info"`
	Summary *ring.Summary `json:"summary,omitempty"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Bind   string
	Port   int
	APIKey string // Guards maintenance routes; empty leaves them open
}

// EventLog is the part of the event log the server reads
type EventLog interface {
	Analyze() eventlog.Analysis
	List(first, count int) ([]eventlog.Entry, error)
	Collect(query string, limit int) eventlog.Results
}
