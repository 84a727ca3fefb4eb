package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"genrecorpus/database"
	"genrecorpus/progress"
)

type staticProgress struct {
	records []progress.GenreRecord
	err     error
}

func (s staticProgress) Load() ([]progress.GenreRecord, error) {
	return s.records, s.err
}

type fakeHistory struct {
	outcomes  []database.Outcome
	lastLimit int
}

func (f *fakeHistory) GetHistory(ctx context.Context, limit int) ([]database.Outcome, error) {
	f.lastLimit = limit
	return f.outcomes, nil
}

func (f *fakeHistory) LatestRun(ctx context.Context) (string, error) {
	if len(f.outcomes) == 0 {
		return "", nil
	}
	return f.outcomes[0].RunID, nil
}

func (f *fakeHistory) Summary(ctx context.Context, runID string) (database.RunSummary, error) {
	return database.RunSummary{RunID: runID, OK: 1, Failed: 1, Bytes: 2048, Segments: 6,
		Started: time.Now().Add(-time.Hour), Finished: time.Now()}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	s.Router().ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	records := []progress.GenreRecord{
		{Genre: "rock", Sealed: true, Entries: []progress.TitleEntry{{Title: "A", URL: "u"}, {Title: "B"}}},
		{Genre: "jazz", Sealed: false, Entries: []progress.TitleEntry{{Title: "C"}}},
	}
	history := &fakeHistory{outcomes: []database.Outcome{{RunID: "run-1", Title: "A", Status: database.StatusOK}}}
	s := New(staticProgress{records: records}, history, func() (int, error) { return 12, nil })

	w := serve(t, s, "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var got Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Titles != 3 || got.Resolved != 1 || got.Clips != 12 || len(got.Genres) != 2 {
		t.Errorf("status = %+v", got)
	}
	if got.Genres[1].Sealed {
		t.Error("jazz should be reported unsealed")
	}
	if got.LatestRun == nil || got.LatestRun.RunID != "run-1" || got.LatestRun.Bytes != "2.0 kB" {
		t.Errorf("latest run = %+v", got.LatestRun)
	}
}

func TestStatusWithoutLedger(t *testing.T) {
	s := New(staticProgress{}, nil, nil)

	w := serve(t, s, "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got Status
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.LatestRun != nil {
		t.Errorf("latest run = %+v, want none", got.LatestRun)
	}

	if w := serve(t, s, "/history"); w.Code != http.StatusNotFound {
		t.Errorf("/history without ledger = %d, want 404", w.Code)
	}
}

func TestStatusLoadError(t *testing.T) {
	s := New(staticProgress{err: errors.New("parse error")}, nil, nil)
	if w := serve(t, s, "/status"); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestHistoryLimit(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantLimit int
	}{
		{name: "default", target: "/history", wantCode: http.StatusOK, wantLimit: 20},
		{name: "explicit", target: "/history?limit=5", wantCode: http.StatusOK, wantLimit: 5},
		{name: "not a number", target: "/history?limit=abc", wantCode: http.StatusBadRequest},
		{name: "too large", target: "/history?limit=1000", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &fakeHistory{outcomes: []database.Outcome{{RunID: "r", Title: "A"}}}
			s := New(staticProgress{}, history, nil)

			w := serve(t, s, tt.target)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && history.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", history.lastLimit, tt.wantLimit)
			}
		})
	}
}
