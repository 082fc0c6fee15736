package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/ring"
)

const (
	defaultPageCount = 16
	maxPageCount     = 1024
	defaultLogCount  = 20
	defaultMatches   = 100
)

// Server holds the API server state
type Server struct {
	regions map[string]ring.Diagnostics
	order   []string
	log     EventLog
	config  ServerConfig
	metrics *Metrics
}

// NewServer creates a new API server over the given regions. log may be nil
// when no event log is kept.
func NewServer(regions []ring.Diagnostics, log EventLog, config ServerConfig, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	s := &Server{
		regions: make(map[string]ring.Diagnostics, len(regions)),
		log:     log,
		config:  config,
		metrics: metrics,
	}
	for _, r := range regions {
		s.regions[r.Name()] = r
		s.order = append(s.order, r.Name())
	}
	return s
}

// handleHealth reports the API as healthy together with the region names.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, map[string]interface{}{"status": "healthy", "regions": s.order})
}

// handleListRegions describes every region.
func (s *Server) handleListRegions(w http.ResponseWriter, r *http.Request) {
	infos := make([]ring.Info, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, s.regions[name].Describe())
	}
	sendSuccess(w, infos)
}

// handleGetRegion describes one region. With scan=true it also scans every
// page of the region.
func (s *Server) handleGetRegion(w http.ResponseWriter, r *http.Request) {
	region, ok := s.region(w, r)
	if !ok {
		return
	}

	resp := RegionResponse{Info: region.Describe()}
	if r.URL.Query().Get("scan") == "true" {
		start := time.Now()
		summary := region.Summarize()
		s.metrics.RecordOperation("scan", nil, start)
		resp.Summary = &summary
	}
	sendSuccess(w, resp)
}

// handlePages returns count pages from start. With raw=true the undecoded
// bytes are returned instead of records.
func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	region, ok := s.region(w, r)
	if !ok {
		return
	}
	start, err := intParam(r, "start", 0)
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := intParam(r, "count", defaultPageCount)
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if count > maxPageCount {
		count = maxPageCount
	}

	began := time.Now()
	var data interface{}
	if r.URL.Query().Get("raw") == "true" {
		data, err = region.Dump(start, count)
	} else {
		data, err = region.Pages(start, count)
	}
	s.metrics.RecordOperation("dump", err, began)
	if err != nil {
		sendError(w, err.Error(), statusFor(err))
		return
	}
	sendSuccess(w, data)
}

// handleErase erases sectors of a region outside the normal erase pacing.
func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	region, ok := s.region(w, r)
	if !ok {
		return
	}

	var req EraseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	results, err := region.Erase(req.Address, req.Sectors)
	s.metrics.RecordOperation("erase", err, start)
	if err != nil {
		sendError(w, err.Error(), statusFor(err))
		return
	}
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	s.metrics.RecordErase(region.Name(), len(results)-failed, failed)
	sendSuccess(w, results)
}

// handleLogInfo analyzes the event log.
func (s *Server) handleLogInfo(w http.ResponseWriter, r *http.Request) {
	if !s.hasLog(w) {
		return
	}
	start := time.Now()
	analysis := s.log.Analyze()
	s.metrics.RecordOperation("scan", nil, start)
	sendSuccess(w, analysis)
}

// handleLogEntries lists log pages from a 1-based page number.
func (s *Server) handleLogEntries(w http.ResponseWriter, r *http.Request) {
	if !s.hasLog(w) {
		return
	}
	first, err := intParam(r, "first", 1)
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := intParam(r, "count", defaultLogCount)
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if count > maxPageCount {
		count = maxPageCount
	}

	entries, err := s.log.List(first, count)
	if err != nil {
		sendError(w, err.Error(), statusFor(err))
		return
	}
	sendSuccess(w, entries)
}

// handleLogSearch searches the event log. q=#errors lists error events.
func (s *Server) handleLogSearch(w http.ResponseWriter, r *http.Request) {
	if !s.hasLog(w) {
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		sendError(w, "Query parameter q is required", http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit", defaultMatches)
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	results := s.log.Collect(query, limit)
	s.metrics.RecordOperation("search", nil, start)
	sendSuccess(w, results)
}

func (s *Server) region(w http.ResponseWriter, r *http.Request) (ring.Diagnostics, bool) {
	name := chi.URLParam(r, "name")
	region, ok := s.regions[name]
	if !ok {
		sendError(w, fmt.Sprintf("Region not found: %s", name), http.StatusNotFound)
		return nil, false
	}
	return region, true
}

func (s *Server) hasLog(w http.ResponseWriter) bool {
	if s.log == nil {
		sendError(w, "Event log not available", http.StatusNotFound)
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	// Base zero accepts 0x prefixed addresses and page numbers.
	v, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		return 0, errors.Newf("invalid %s: %q", name, raw)
	}
	return int(v), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ring.ErrOutOfRange), errors.Is(err, blockdev.ErrUnaligned), errors.Is(err, blockdev.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, blockdev.ErrWriteProtected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
