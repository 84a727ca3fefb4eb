package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"
	sentry "github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"genrecorpus/audio"
	"genrecorpus/database"
	"genrecorpus/progress"
	"genrecorpus/sentryhelper"
	"genrecorpus/youtube"
)

type Downloader interface {
	Download(ctx context.Context, videoURL string, w io.Writer) (youtube.DownloadResult, error)
}

type Segmenter interface {
	Segment(ctx context.Context, source, genre, title string, durationSeconds int) (int, error)
	FirstSegment(genre, title string) string
}

// Recorder receives one outcome per task. database.Ledger satisfies it.
type Recorder interface {
	RecordOutcome(ctx context.Context, o database.Outcome) error
}

const (
	StageDownload = "download"
	StageSegment  = "segment"
	StageDone     = "done"
)

// TaskError is a failed stage of one task. It never stops other tasks.
type TaskError struct {
	Index int
	Title string
	Stage string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d (%s) failed at %s: %v", e.Index, e.Title, e.Stage, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type Task struct {
	Index int
	Genre string
	Title string
	URL   string
}

// Tasks flattens resolved entries in genre order, then entry order.
func Tasks(records []progress.GenreRecord) []Task {
	var tasks []Task
	for _, r := range records {
		for _, e := range r.Entries {
			if !e.Resolved() {
				continue
			}
			tasks = append(tasks, Task{Index: len(tasks), Genre: r.Genre, Title: e.Title, URL: e.URL})
		}
	}
	return tasks
}

type Summary struct {
	RunID           string
	Total           int
	Downloaded      int
	DownloadSkipped int
	Segmented       int
	SegmentSkipped  int
	Clips           int
	Failed          int
	Canceled        int
	Bytes           int64
}

type Options struct {
	OriginalDir     string
	MediaExt        string
	SegmentDuration int
	Concurrency     int
	DownloadTimeout time.Duration
	// ShowBar draws a terminal progress bar instead of periodic log lines.
	ShowBar       bool
	ProgressEvery int
}

type Scheduler struct {
	storage    Storage
	downloader Downloader
	segmenter  Segmenter
	recorder   Recorder
	opts       Options
	logger     *log.Entry

	mutex   sync.Mutex
	summary Summary
}

func NewScheduler(storage Storage, downloader Downloader, segmenter Segmenter, recorder Recorder, opts Options) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 2
	}
	return &Scheduler{
		storage:    storage,
		downloader: downloader,
		segmenter:  segmenter,
		recorder:   recorder,
		opts:       opts,
		logger:     log.WithFields(log.Fields{"module": "acquisition"}),
	}
}

// Run downloads and segments every resolved title with at most
// Options.Concurrency tasks in flight. Work already on disk is skipped, so a
// re-run after a crash only redoes what is missing. Task failures are
// counted in the Summary; the error is for setup failures and cancellation.
func (s *Scheduler) Run(ctx context.Context, records []progress.GenreRecord) (Summary, error) {
	tasks := Tasks(records)
	runID := uuid.NewString()

	ctx, tx := sentryhelper.StartStageTransaction(ctx, "acquire", runID)
	defer tx.Finish()

	s.mutex.Lock()
	s.summary = Summary{RunID: runID, Total: len(tasks)}
	s.mutex.Unlock()

	if err := s.storage.MkdirAll(s.opts.OriginalDir); err != nil {
		tx.Status = sentry.SpanStatusInternalError
		return s.snapshot(), fmt.Errorf("failed to create %s: %w", s.opts.OriginalDir, err)
	}

	s.logger.WithFields(log.Fields{"run_id": runID}).Infof("acquiring %d songs with %d workers", len(tasks), s.opts.Concurrency)
	tracker := newTracker(len(tasks), s.opts.ShowBar, s.opts.ProgressEvery, s.logger)

	var group errgroup.Group
	group.SetLimit(s.opts.Concurrency)
	for _, task := range tasks {
		group.Go(func() error {
			defer tracker.done()
			s.process(ctx, task)
			return nil
		})
	}
	group.Wait()
	tracker.wait()

	summary := s.snapshot()
	s.logger.WithFields(log.Fields{"run_id": runID}).Infof(
		"acquisition finished: %d downloaded (%s), %d already present, %d segmented into %d clips, %d failed",
		summary.Downloaded, humanize.Bytes(uint64(summary.Bytes)), summary.DownloadSkipped,
		summary.Segmented, summary.Clips, summary.Failed)

	if err := ctx.Err(); err != nil {
		tx.Status = sentry.SpanStatusCanceled
		return summary, err
	}
	tx.Status = sentry.SpanStatusOK
	return summary, nil
}

func (s *Scheduler) process(ctx context.Context, task Task) {
	logger := s.logger.WithFields(log.Fields{
		"index": task.Index,
		"genre": task.Genre,
		"title": task.Title,
	})

	if ctx.Err() != nil {
		s.update(func(sum *Summary) { sum.Canceled++ })
		return
	}

	outcome := database.Outcome{
		RunID: s.snapshotRunID(),
		Genre: task.Genre,
		Title: task.Title,
		URL:   task.URL,
	}

	original := OriginalPath(s.opts.OriginalDir, task.Title, s.opts.MediaExt)
	var mediaLength time.Duration

	exists, err := s.storage.Exists(original)
	if err != nil {
		s.fail(ctx, logger, outcome, &TaskError{Index: task.Index, Title: task.Title, Stage: StageDownload, Err: err})
		return
	}
	if exists {
		logger.Tracef("%s already downloaded", original)
		s.update(func(sum *Summary) { sum.DownloadSkipped++ })
	} else {
		result, err := s.download(ctx, task, original)
		if err != nil {
			s.fail(ctx, logger, outcome, err)
			return
		}
		mediaLength = result.Duration
		outcome.Bytes = result.Bytes
		s.update(func(sum *Summary) {
			sum.Downloaded++
			sum.Bytes += result.Bytes
		})
	}

	first := s.segmenter.FirstSegment(task.Genre, task.Title)
	segmented, err := s.storage.Exists(first)
	if err != nil {
		s.fail(ctx, logger, outcome, &TaskError{Index: task.Index, Title: task.Title, Stage: StageSegment, Err: err})
		return
	}
	if segmented {
		logger.Tracef("%s already segmented", task.Title)
		s.update(func(sum *Summary) { sum.SegmentSkipped++ })
	} else {
		n, err := s.segmenter.Segment(ctx, original, task.Genre, task.Title, s.opts.SegmentDuration)
		if err != nil {
			s.fail(ctx, logger, outcome, &TaskError{Index: task.Index, Title: task.Title, Stage: StageSegment, Err: err})
			return
		}
		if want := audio.ExpectedSegments(mediaLength, s.opts.SegmentDuration); want > 0 && want != n {
			logger.Warnf("expected %d segments for %v of audio, got %d", want, mediaLength, n)
		}
		outcome.Segments = n
		s.update(func(sum *Summary) {
			sum.Segmented++
			sum.Clips += n
		})
	}

	outcome.Stage = StageDone
	outcome.Status = database.StatusOK
	s.record(ctx, logger, outcome)
}

// download writes into a temp file next to the destination and renames it into
// place, so a partial download never looks complete.
func (s *Scheduler) download(ctx context.Context, task Task, original string) (youtube.DownloadResult, error) {
	if s.opts.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DownloadTimeout)
		defer cancel()
	}

	taskErr := func(err error) error {
		return &TaskError{Index: task.Index, Title: task.Title, Stage: StageDownload, Err: err}
	}

	w, tmp, err := s.storage.CreateTemp(filepath.Dir(original), ".download-*")
	if err != nil {
		return youtube.DownloadResult{}, taskErr(err)
	}

	result, err := s.downloader.Download(ctx, task.URL, w)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if removeErr := s.storage.Remove(tmp); removeErr != nil && !os.IsNotExist(removeErr) {
			s.logger.Warnf("failed to remove partial download %s: %v", tmp, removeErr)
		}
		return youtube.DownloadResult{}, taskErr(err)
	}

	if err := s.storage.Rename(tmp, original); err != nil {
		s.storage.Remove(tmp)
		return youtube.DownloadResult{}, taskErr(err)
	}
	return result, nil
}

func (s *Scheduler) fail(ctx context.Context, logger *log.Entry, outcome database.Outcome, err error) {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		outcome.Stage = taskErr.Stage
		logger.Errorf("[%d] failed to %s %s: %v", taskErr.Index, taskErr.Stage, taskErr.Title, taskErr.Err)
	} else {
		logger.Errorf("task failed: %v", err)
	}
	if ctx.Err() == nil {
		sentryhelper.CaptureException(ctx, err)
	}

	outcome.Status = database.StatusFailed
	outcome.Error = err.Error()
	s.update(func(sum *Summary) { sum.Failed++ })
	s.record(ctx, logger, outcome)
}

func (s *Scheduler) record(ctx context.Context, logger *log.Entry, outcome database.Outcome) {
	if s.recorder == nil {
		return
	}
	outcome.At = time.Now().UTC()
	if err := s.recorder.RecordOutcome(context.WithoutCancel(ctx), outcome); err != nil {
		logger.Warnf("failed to record outcome: %v", err)
	}
}

func (s *Scheduler) update(f func(*Summary)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	f(&s.summary)
}

func (s *Scheduler) snapshot() Summary {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.summary
}

func (s *Scheduler) snapshotRunID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.summary.RunID
}
