package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/eventlog"
	"github.com/ssargent/flashring/pkg/ring"
)

const testAPIKey = "test-key"

// testServer wires an events ring at 0x0000 and a samples ring at 0x1000 on
// one in-memory device, 16 pages each in sectors of 4.
type testServer struct {
	server   *Server
	handler  http.Handler
	events   *eventlog.Log
	samples  *ring.Ring[codec.SampleBatch]
	sampleSt *ring.State
}

// envelope mirrors APIResponse with the payload left undecoded.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func testRegion(name string, base uint32) ring.Region {
	return ring.Region{
		Name:              name,
		BaseAddress:       base,
		PageSize:          256,
		PagesPerSector:    4,
		PageCount:         16,
		OverlapGuardPages: 4,
	}
}

func setupTestServer(t *testing.T, withLog bool) *testServer {
	t.Helper()

	dev, err := blockdev.NewMemDevice(blockdev.Geometry{Size: 8192, PageSize: 256, SectorSize: 1024})
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := ring.Options{Logger: logger}

	eventRing, err := ring.New[codec.LogEntry](testRegion("events", 0), dev, codec.NewLogEntryCodec(), opts)
	if err != nil {
		t.Fatalf("Failed to create event ring: %v", err)
	}
	sampleRing, err := ring.New[codec.SampleBatch](testRegion("samples", 0x1000), dev, codec.NewSampleBatchCodec(), opts)
	if err != nil {
		t.Fatalf("Failed to create sample ring: %v", err)
	}

	var now int64
	clock := func() int64 {
		now += 10
		return now
	}
	events := eventlog.New(eventRing, ring.NewState(), eventlog.Options{Logger: logger, Clock: clock})

	ts := &testServer{events: events, samples: sampleRing, sampleSt: ring.NewState()}
	var log EventLog
	if withLog {
		log = events
	}
	regions := []ring.Diagnostics{
		eventRing.Diagnostics(events.State()),
		sampleRing.Diagnostics(ts.sampleSt),
	}

	registry := prometheus.NewRegistry()
	ts.server = NewServer(regions, log, ServerConfig{APIKey: testAPIKey}, NewMetrics(registry))
	ts.handler = ts.server.Router(registry)
	return ts
}

func (ts *testServer) appendSamples(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		batch := codec.SampleBatch{
			Sequence:         uint32(i + 1),
			CaptureTimestamp: int64(100 * (i + 1)),
			X:                []int8{1, 2},
			Y:                []int8{3, 4},
			Z:                []int8{5, 6},
		}
		if _, err := ts.samples.Append(ts.sampleSt, batch); err != nil {
			t.Fatalf("Failed to append sample: %v", err)
		}
	}
}

func (ts *testServer) recordEvents(t *testing.T) {
	t.Helper()
	ts.events.Info("boot %d", 1)
	ts.events.Error("sensor timeout")
	ts.events.Info("uplink connected")
	ts.events.Error("write failed at %d", 7)
	if _, err := ts.events.Flush(); err != nil {
		t.Fatalf("Failed to flush events: %v", err)
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body []byte, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	var response envelope
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return w, response
}

func decodeData(t *testing.T, response envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(response.Data, v); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
}

func TestServer_handleHealth(t *testing.T) {
	ts := setupTestServer(t, true)

	w, response := ts.do(t, "GET", "/api/v1/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !response.Success {
		t.Error("Expected success to be true")
	}

	var data struct {
		Status  string   `json:"status"`
		Regions []string `json:"regions"`
	}
	decodeData(t, response, &data)
	if data.Status != "healthy" {
		t.Errorf("Expected status healthy, got %s", data.Status)
	}
	if strings.Join(data.Regions, ",") != "events,samples" {
		t.Errorf("Expected regions events,samples, got %v", data.Regions)
	}
}

func TestServer_handleListRegions(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.appendSamples(t, 3)

	w, response := ts.do(t, "GET", "/api/v1/regions", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var infos []struct {
		Region struct {
			Name string `json:"name"`
		} `json:"region"`
		Capacity int `json:"capacity"`
		Unread   int `json:"unread"`
	}
	decodeData(t, response, &infos)
	if len(infos) != 2 {
		t.Fatalf("Expected 2 regions, got %d", len(infos))
	}
	if infos[1].Region.Name != "samples" {
		t.Errorf("Expected second region samples, got %s", infos[1].Region.Name)
	}
	if infos[1].Capacity != 12 {
		t.Errorf("Expected capacity 12, got %d", infos[1].Capacity)
	}
	if infos[1].Unread != 3 {
		t.Errorf("Expected 3 unread, got %d", infos[1].Unread)
	}
}

func TestServer_handleGetRegion(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.appendSamples(t, 3)

	tests := []struct {
		name           string
		target         string
		expectedStatus int
		expectSummary  bool
	}{
		{
			name:           "describe only",
			target:         "/api/v1/regions/samples",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "with scan",
			target:         "/api/v1/regions/samples?scan=true",
			expectedStatus: http.StatusOK,
			expectSummary:  true,
		},
		{
			name:           "unknown region",
			target:         "/api/v1/regions/nope",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := ts.do(t, "GET", tt.target, nil, nil)
			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				if response.Success {
					t.Error("Expected success to be false")
				}
				return
			}

			var data struct {
				Summary *struct {
					Active   int `json:"active"`
					Inactive int `json:"inactive"`
					Oldest   int `json:"oldest"`
					Newest   int `json:"newest"`
				} `json:"summary"`
			}
			decodeData(t, response, &data)
			if !tt.expectSummary {
				if data.Summary != nil {
					t.Error("Expected no summary without scan")
				}
				return
			}
			if data.Summary == nil {
				t.Fatal("Expected a summary")
			}
			if data.Summary.Active != 3 || data.Summary.Inactive != 13 {
				t.Errorf("Expected 3 active and 13 inactive, got %d and %d", data.Summary.Active, data.Summary.Inactive)
			}
			if data.Summary.Oldest != 0 || data.Summary.Newest != 2 {
				t.Errorf("Expected oldest 0 and newest 2, got %d and %d", data.Summary.Oldest, data.Summary.Newest)
			}
		})
	}
}

func TestServer_handlePages(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.appendSamples(t, 3)

	t.Run("decoded", func(t *testing.T) {
		w, response := ts.do(t, "GET", "/api/v1/regions/samples/pages?start=0&count=4", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var pages []struct {
			PageNumber int  `json:"page_number"`
			Active     bool `json:"active"`
			Record     *struct {
				Sequence uint32 `json:"sequence"`
			} `json:"record"`
		}
		decodeData(t, response, &pages)
		if len(pages) != 4 {
			t.Fatalf("Expected 4 pages, got %d", len(pages))
		}
		for i := 0; i < 3; i++ {
			if !pages[i].Active || pages[i].Record == nil || pages[i].Record.Sequence != uint32(i+1) {
				t.Errorf("Expected page %d to hold sequence %d", i, i+1)
			}
		}
		if pages[3].Active {
			t.Error("Expected page 3 to be inactive")
		}
	})

	t.Run("raw", func(t *testing.T) {
		w, response := ts.do(t, "GET", "/api/v1/regions/samples/pages?start=2&count=2&raw=true", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var pages []struct {
			Index   int    `json:"index"`
			Address uint32 `json:"address"`
			Erased  bool   `json:"erased"`
			Data    []byte `json:"data"`
		}
		decodeData(t, response, &pages)
		if len(pages) != 2 {
			t.Fatalf("Expected 2 pages, got %d", len(pages))
		}
		if pages[0].Address != 0x1200 || pages[0].Erased || len(pages[0].Data) != 256 {
			t.Errorf("Unexpected page 2: %+v", pages[0])
		}
		if pages[1].Address != 0x1300 || !pages[1].Erased {
			t.Errorf("Expected page 3 at 0x1300 to be erased: %+v", pages[1])
		}
	})

	t.Run("bad arguments", func(t *testing.T) {
		for _, target := range []string{
			"/api/v1/regions/samples/pages?start=16",
			"/api/v1/regions/samples/pages?start=abc",
			"/api/v1/regions/samples/pages?count=0",
		} {
			w, _ := ts.do(t, "GET", target, nil, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", target, w.Code)
			}
		}
	})
}

func TestServer_handleErase(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.appendSamples(t, 3)
	authorized := http.Header{"X-Api-Key": []string{testAPIKey}}

	tests := []struct {
		name           string
		body           string
		header         http.Header
		expectedStatus int
	}{
		{
			name:           "missing API key",
			body:           `{"address":4096,"sectors":1}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid JSON",
			body:           `{"address":`,
			header:         authorized,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unaligned address",
			body:           `{"address":4352,"sectors":1}`,
			header:         authorized,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "outside region",
			body:           `{"address":0,"sectors":1}`,
			header:         authorized,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "too many sectors",
			body:           `{"address":4096,"sectors":5}`,
			header:         authorized,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := ts.do(t, "POST", "/api/v1/regions/samples/erase", []byte(tt.body), tt.header)
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if response.Success {
				t.Error("Expected success to be false")
			}
		})
	}

	t.Run("erases sector", func(t *testing.T) {
		w, response := ts.do(t, "POST", "/api/v1/regions/samples/erase", []byte(`{"address":4096,"sectors":1}`), authorized)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, response.Error)
		}
		var results []struct {
			Address uint32 `json:"address"`
			Error   string `json:"error"`
		}
		decodeData(t, response, &results)
		if len(results) != 1 || results[0].Address != 0x1000 || results[0].Error != "" {
			t.Fatalf("Unexpected erase results: %+v", results)
		}

		summary := ts.samples.Summarize()
		if summary.Active != 0 {
			t.Errorf("Expected no active pages after erase, got %d", summary.Active)
		}
	})
}

func TestServer_handleLog(t *testing.T) {
	ts := setupTestServer(t, true)
	ts.recordEvents(t)

	t.Run("info", func(t *testing.T) {
		w, response := ts.do(t, "GET", "/api/v1/log", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var analysis eventlog.Analysis
		decodeData(t, response, &analysis)
		if analysis.Info != 2 || analysis.Error != 2 || analysis.Stored != 4 {
			t.Errorf("Unexpected analysis: %+v", analysis)
		}
		if analysis.FirstInactive != 4 || analysis.LastInactive != 15 {
			t.Errorf("Expected inactive pages 4..15, got %d..%d", analysis.FirstInactive, analysis.LastInactive)
		}
	})

	t.Run("entries", func(t *testing.T) {
		w, response := ts.do(t, "GET", "/api/v1/log/entries?first=2&count=3", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var entries []struct {
			PageNumber int  `json:"page_number"`
			Active     bool `json:"active"`
			Event      *struct {
				Kind string `json:"kind"`
				Text string `json:"text"`
			} `json:"event"`
		}
		decodeData(t, response, &entries)
		if len(entries) != 3 {
			t.Fatalf("Expected 3 entries, got %d", len(entries))
		}
		if entries[0].PageNumber != 2 || entries[0].Event == nil || entries[0].Event.Text != "sensor timeout" || entries[0].Event.Kind != "Error" {
			t.Errorf("Unexpected first entry: %+v", entries[0])
		}
		if entries[2].PageNumber != 4 || entries[2].Event == nil || entries[2].Event.Text != "write failed at 7" {
			t.Errorf("Unexpected last entry: %+v", entries[2])
		}
	})

	t.Run("entries out of range", func(t *testing.T) {
		w, _ := ts.do(t, "GET", "/api/v1/log/entries?first=0", nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("search errors", func(t *testing.T) {
		target := "/api/v1/log/search?" + url.Values{"q": []string{eventlog.ErrorsOnly}}.Encode()
		w, response := ts.do(t, "GET", target, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var results struct {
			Query   string `json:"query"`
			Matches []struct {
				PageNumber int `json:"page_number"`
			} `json:"matches"`
			Stats struct {
				Searched int `json:"searched"`
				Skipped  int `json:"skipped"`
				Found    int `json:"found"`
			} `json:"stats"`
		}
		decodeData(t, response, &results)
		if results.Query != eventlog.ErrorsOnly {
			t.Errorf("Expected query %q, got %q", eventlog.ErrorsOnly, results.Query)
		}
		if len(results.Matches) != 2 || results.Matches[0].PageNumber != 2 || results.Matches[1].PageNumber != 4 {
			t.Errorf("Unexpected matches: %+v", results.Matches)
		}
		if results.Stats.Searched != 16 || results.Stats.Skipped != 12 || results.Stats.Found != 2 {
			t.Errorf("Unexpected stats: %+v", results.Stats)
		}
	})

	t.Run("search limit", func(t *testing.T) {
		w, response := ts.do(t, "GET", "/api/v1/log/search?q=t&limit=1", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var results struct {
			Matches []json.RawMessage `json:"matches"`
			Stats   struct {
				Found int `json:"found"`
			} `json:"stats"`
		}
		decodeData(t, response, &results)
		if len(results.Matches) != 1 {
			t.Errorf("Expected 1 match, got %d", len(results.Matches))
		}
		if results.Stats.Found != 4 {
			t.Errorf("Expected 4 found, got %d", results.Stats.Found)
		}
	})

	t.Run("search without query", func(t *testing.T) {
		w, _ := ts.do(t, "GET", "/api/v1/log/search", nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})
}

func TestServer_withoutLog(t *testing.T) {
	ts := setupTestServer(t, false)

	for _, target := range []string{"/api/v1/log", "/api/v1/log/entries", "/api/v1/log/search?q=x"} {
		w, response := ts.do(t, "GET", target, nil, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", target, w.Code)
		}
		if response.Error != "Event log not available" {
			t.Errorf("%s: unexpected error %q", target, response.Error)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"out of range", ring.ErrOutOfRange, http.StatusBadRequest},
		{"unaligned", blockdev.ErrUnaligned, http.StatusBadRequest},
		{"write protected", blockdev.ErrWriteProtected, http.StatusConflict},
		{"other", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, got)
			}
		})
	}
}
