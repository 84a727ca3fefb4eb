// Package corpus turns a directory of labelled clips into dataset rows. The
// feature computation and the dataset format are supplied by the caller.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrBadClipName = errors.New("clip name is not <genre>_<NN>_<title>.<ext>")

// Clip is one segment file and the label carried in its name.
type Clip struct {
	Name  string
	Genre string
	Index int
	Title string
}

// ParseSegmentName splits "<genre>_<NN>_<title>.<ext>". Titles may contain
// underscores; genres may not.
func ParseSegmentName(name string) (Clip, error) {
	base := name
	if dot := strings.LastIndexByte(base, '.'); dot > 0 {
		base = base[:dot]
	}

	genre, rest, ok := strings.Cut(base, "_")
	if !ok || genre == "" {
		return Clip{}, fmt.Errorf("%q: %w", name, ErrBadClipName)
	}
	number, title, ok := strings.Cut(rest, "_")
	if !ok || title == "" {
		return Clip{}, fmt.Errorf("%q: %w", name, ErrBadClipName)
	}
	index, err := strconv.Atoi(number)
	if err != nil || index < 0 {
		return Clip{}, fmt.Errorf("%q: %w", name, ErrBadClipName)
	}

	return Clip{Name: name, Genre: genre, Index: index, Title: title}, nil
}

// Extractor computes the feature vector of one clip.
type Extractor interface {
	Columns() []string
	Extract(ctx context.Context, path string) ([]float64, error)
}

type Row struct {
	Clip   Clip
	Values []float64
}

// Writer receives rows in batches. Header is called once before any rows.
type Writer interface {
	Header(columns []string) error
	Write(rows []Row) error
}

// Lister lists the file names in a directory.
type Lister interface {
	ReadDir(dir string) ([]string, error)
}

type Options struct {
	Dir         string
	Ext         string
	Concurrency int
	// FlushEvery is how many rows are buffered before they are handed to
	// the Writer.
	FlushEvery int
}

type Stats struct {
	Clips     int
	Extracted int
	Skipped   int
	Failed    int
}

// Run extracts every clip in Options.Dir. A clip that cannot be parsed or
// extracted is logged and skipped; a Writer error stops the run.
func Run(ctx context.Context, lister Lister, extractor Extractor, writer Writer, opts Options) (Stats, error) {
	logger := log.WithFields(log.Fields{"module": "corpus", "dir": opts.Dir})
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.FlushEvery < 1 {
		opts.FlushEvery = 100
	}

	names, err := lister.ReadDir(opts.Dir)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list clips in %s: %w", opts.Dir, err)
	}
	sort.Strings(names)

	stats := Stats{}
	var clips []Clip
	for _, name := range names {
		if opts.Ext != "" && !strings.HasSuffix(name, "."+opts.Ext) {
			continue
		}
		clip, err := ParseSegmentName(name)
		if err != nil {
			logger.Warnf("skipping %v", err)
			stats.Skipped++
			continue
		}
		clips = append(clips, clip)
	}
	stats.Clips = len(clips)

	if err := writer.Header(append([]string{"Name", "Genre"}, extractor.Columns()...)); err != nil {
		return stats, fmt.Errorf("failed to write header: %w", err)
	}

	var (
		mutex   sync.Mutex
		pending []Row
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := writer.Write(pending); err != nil {
			return fmt.Errorf("failed to write rows: %w", err)
		}
		logger.Debugf("flushed %d rows", len(pending))
		pending = nil
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(opts.Concurrency)
	for _, clip := range clips {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			values, err := extractor.Extract(groupCtx, filepath.Join(opts.Dir, clip.Name))
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				logger.Errorf("failed to extract %s: %v", clip.Name, err)
				stats.Failed++
				return nil
			}
			stats.Extracted++
			pending = append(pending, Row{Clip: clip, Values: values})
			if stats.Extracted%opts.FlushEvery == 0 {
				return flush()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return stats, err
	}

	if err := flush(); err != nil {
		return stats, err
	}
	logger.Infof("extracted %d/%d clips (%d failed, %d skipped)", stats.Extracted, stats.Clips, stats.Failed, stats.Skipped)
	return stats, nil
}
