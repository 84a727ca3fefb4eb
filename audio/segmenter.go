package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

// TranscodeError is a failed or empty ffmpeg run for one source file.
type TranscodeError struct {
	Source string
	Output string
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("ffmpeg failed for %s: %v: %s", e.Source, e.Err, e.Output)
	}
	return fmt.Sprintf("ffmpeg failed for %s: %v", e.Source, e.Err)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

var errNoSegments = errors.New("no segments produced")

// Runner executes a command in dir and returns its combined output.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

type SegmenterOptions struct {
	FFmpegPath string
	// Dir is where clips are written, e.g. songs/segment_30.
	Dir        string
	MediaExt   string
	SegmentExt string
	Timeout    time.Duration
}

// Segmenter slices a source file into fixed-length clips with the ffmpeg
// segment muxer, then renames them to the media extension.
type Segmenter struct {
	ffmpegPath string
	dir        string
	mediaExt   string
	segmentExt string
	timeout    time.Duration
	run        Runner
	logger     *log.Entry
}

func NewSegmenter(opts SegmenterOptions) *Segmenter {
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Segmenter{
		ffmpegPath: ffmpeg,
		dir:        opts.Dir,
		mediaExt:   opts.MediaExt,
		segmentExt: opts.SegmentExt,
		timeout:    opts.Timeout,
		run:        execRunner,
		logger: log.WithFields(log.Fields{
			"module": "segmenter",
			"dir":    opts.Dir,
		}),
	}
}

func (s *Segmenter) Dir() string {
	return s.dir
}

// FileTitle is the form of a title used inside file names.
func FileTitle(title string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(title)
}

// SegmentName is the final file name of clip index for a title.
func SegmentName(genre, title string, index int, ext string) string {
	return fmt.Sprintf("%s_%02d_%s.%s", genre, index, FileTitle(title), ext)
}

// FirstSegment is the path of the clip whose presence marks a title as
// segmented.
func (s *Segmenter) FirstSegment(genre, title string) string {
	return filepath.Join(s.dir, SegmentName(genre, title, 0, s.mediaExt))
}

// ExpectedSegments is the number of clips a source of length total yields.
func ExpectedSegments(total time.Duration, segmentSeconds int) int {
	if total <= 0 || segmentSeconds <= 0 {
		return 0
	}
	seg := time.Duration(segmentSeconds) * time.Second
	return int((total + seg - 1) / seg)
}

// Segment cuts source into clips of durationSeconds and returns how many
// clips were renamed into place.
func (s *Segmenter) Segment(ctx context.Context, source, genre, title string, durationSeconds int) (int, error) {
	logger := s.logger.WithFields(log.Fields{"genre": genre, "title": title})

	span := sentry.StartSpan(ctx, "audio.segment")
	span.Description = "ffmpeg segment"
	span.SetTag("genre", genre)
	defer span.Finish()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	src, err := filepath.Abs(source)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return 0, &TranscodeError{Source: source, Err: err}
	}

	args := []string{
		"-i", src,
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(durationSeconds),
		"-reset_timestamps", "1",
		s.pattern(genre, title),
		"-loglevel", "error",
	}
	logger.Tracef("running %s %s", s.ffmpegPath, strings.Join(args, " "))

	start := time.Now()
	output, err := s.run(ctx, s.dir, s.ffmpegPath, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("ffmpeg timed out after %v: %w", s.timeout, ctx.Err())
		}
		span.Status = sentry.SpanStatusInternalError
		return 0, &TranscodeError{Source: source, Output: strings.TrimSpace(string(output)), Err: err}
	}

	n, err := s.renameSegments(genre, title)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return n, fmt.Errorf("failed to rename segments of %s: %w", title, err)
	}
	if n == 0 {
		span.Status = sentry.SpanStatusInternalError
		return 0, &TranscodeError{Source: source, Err: errNoSegments}
	}

	span.Status = sentry.SpanStatusOK
	span.SetData("segments", n)
	logger.Debugf("cut %d segments in %v", n, time.Since(start))
	return n, nil
}

// pattern is the segment muxer output template; literal % must be doubled.
func (s *Segmenter) pattern(genre, title string) string {
	escape := strings.NewReplacer("%", "%%")
	return fmt.Sprintf("%s_%%02d_%s.%s", escape.Replace(genre), escape.Replace(FileTitle(title)), s.segmentExt)
}

// renameSegments moves this title's clips from the segment extension to the
// media extension. Files of other titles in the directory are left alone.
func (s *Segmenter) renameSegments(genre, title string) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	renamed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		index, ok := s.matchSegment(entry.Name(), genre, title)
		if !ok {
			continue
		}
		if s.segmentExt != s.mediaExt {
			from := filepath.Join(s.dir, entry.Name())
			to := filepath.Join(s.dir, SegmentName(genre, title, index, s.mediaExt))
			if err := os.Rename(from, to); err != nil {
				return renamed, err
			}
		}
		renamed++
	}
	return renamed, nil
}

func (s *Segmenter) matchSegment(name, genre, title string) (int, bool) {
	rest, ok := strings.CutPrefix(name, genre+"_")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "_"+FileTitle(title)+"."+s.segmentExt)
	if !ok || len(rest) < 2 {
		return 0, false
	}
	index, err := strconv.Atoi(rest)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}
