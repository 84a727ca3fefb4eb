package server

import (
	"context"
	"net/http"
	"strconv"

	humanize "github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"genrecorpus/database"
	"genrecorpus/progress"
)

type ProgressSource interface {
	Load() ([]progress.GenreRecord, error)
}

type History interface {
	GetHistory(ctx context.Context, limit int) ([]database.Outcome, error)
	LatestRun(ctx context.Context) (string, error)
	Summary(ctx context.Context, runID string) (database.RunSummary, error)
}

// ClipCounter reports how many finished clips are on disk.
type ClipCounter func() (int, error)

type GenreStatus struct {
	Genre    string `json:"genre"`
	Titles   int    `json:"titles"`
	Resolved int    `json:"resolved"`
	Sealed   bool   `json:"sealed"`
}

type RunStatus struct {
	RunID    string `json:"run_id"`
	OK       int    `json:"ok"`
	Failed   int    `json:"failed"`
	Bytes    string `json:"bytes"`
	Segments int    `json:"segments"`
	Started  string `json:"started,omitempty"`
	Finished string `json:"finished,omitempty"`
}

type Status struct {
	Genres    []GenreStatus `json:"genres"`
	Titles    int           `json:"titles"`
	Resolved  int           `json:"resolved"`
	Clips     int           `json:"clips"`
	LatestRun *RunStatus    `json:"latest_run,omitempty"`
}

type Server struct {
	progress ProgressSource
	history  History
	clips    ClipCounter
	logger   *log.Entry
}

// New builds the read-only status API. history may be nil when the ledger is
// disabled.
func New(source ProgressSource, history History, clips ClipCounter) *Server {
	return &Server{
		progress: source,
		history:  history,
		clips:    clips,
		logger:   log.WithFields(log.Fields{"module": "server"}),
	}
}

func (s *Server) Router(middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware...)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/status", s.handleStatus)
	router.GET("/history", s.handleHistory)
	return router
}

// Collect gathers the same view /status serves.
func (s *Server) Collect(ctx context.Context) (Status, error) {
	records, err := s.progress.Load()
	if err != nil {
		return Status{}, err
	}

	status := Status{Genres: make([]GenreStatus, 0, len(records))}
	for _, r := range records {
		total, resolved := r.Counts()
		status.Genres = append(status.Genres, GenreStatus{
			Genre:    r.Genre,
			Titles:   total,
			Resolved: resolved,
			Sealed:   r.Sealed,
		})
		status.Titles += total
		status.Resolved += resolved
	}

	if s.clips != nil {
		clips, err := s.clips()
		if err != nil {
			return Status{}, err
		}
		status.Clips = clips
	}

	if s.history != nil {
		runID, err := s.history.LatestRun(ctx)
		if err != nil {
			return Status{}, err
		}
		if runID != "" {
			summary, err := s.history.Summary(ctx, runID)
			if err != nil {
				return Status{}, err
			}
			run := &RunStatus{
				RunID:    summary.RunID,
				OK:       summary.OK,
				Failed:   summary.Failed,
				Bytes:    humanize.Bytes(uint64(summary.Bytes)),
				Segments: summary.Segments,
			}
			if !summary.Started.IsZero() {
				run.Started = humanize.Time(summary.Started)
				run.Finished = humanize.Time(summary.Finished)
			}
			status.LatestRun = run
		}
	}
	return status, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.Collect(c.Request.Context())
	if err != nil {
		s.logger.Errorf("failed to collect status: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Ledger is disabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	outcomes, err := s.history.GetHistory(c.Request.Context(), limit)
	if err != nil {
		s.logger.Errorf("failed to read history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history"})
		return
	}

	items := make([]gin.H, 0, len(outcomes))
	for _, o := range outcomes {
		items = append(items, gin.H{
			"run_id":   o.RunID,
			"genre":    o.Genre,
			"title":    o.Title,
			"url":      o.URL,
			"stage":    o.Stage,
			"status":   o.Status,
			"error":    o.Error,
			"bytes":    o.Bytes,
			"segments": o.Segments,
			"at":       o.At,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": items})
}
