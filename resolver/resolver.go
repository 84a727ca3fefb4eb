package resolver

import (
	"context"
	"errors"
	"fmt"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"genrecorpus/progress"
	"genrecorpus/youtube"
)

// Searcher maps a free-text query to a media URL using one credential.
type Searcher interface {
	Search(ctx context.Context, apiKey, query string) (string, error)
}

// Saver persists the full record set. progress.Store satisfies it.
type Saver interface {
	Save(records []progress.GenreRecord) error
}

type Report struct {
	AlreadyResolved int
	Resolved        int
	NoMatch         int
	Failed          int
	Queries         int
	// Exhausted is set when resolution stopped because no usable token was
	// left. The run is incomplete but consistent.
	Exhausted bool
}

// Unresolved counts titles still lacking a URL across records.
func Unresolved(records []progress.GenreRecord) int {
	n := 0
	for _, r := range records {
		total, resolved := r.Counts()
		n += total - resolved
	}
	return n
}

type Resolver struct {
	searcher Searcher
	saver    Saver
	logger   *log.Entry
}

func New(searcher Searcher, saver Saver) *Resolver {
	return &Resolver{
		searcher: searcher,
		saver:    saver,
		logger:   log.WithFields(log.Fields{"module": "resolver"}),
	}
}

type titleOutcome int

const (
	outcomeResolved titleOutcome = iota
	outcomeNoMatch
	outcomeFailed
	outcomePoolExhausted
)

// Resolve fills in URLs for unresolved titles, genre by genre in catalog
// order. A genre whose block was never sealed is left untouched. The record set is saved after every newly resolved title and at the
// end of every genre. Running out of tokens is not an error: the resolved
// prefix is saved and Report.Exhausted is set.
func (r *Resolver) Resolve(ctx context.Context, records []progress.GenreRecord, pool *TokenPool) ([]progress.GenreRecord, Report, error) {
	out := cloneRecords(records)
	report := Report{}

	for gi := range out {
		record := &out[gi]
		logger := r.logger.WithFields(log.Fields{"genre": record.Genre})
		if !record.Sealed {
			// collect refetches this genre, so its titles are not final yet
			logger.Warnf("Skipping %s, its title list was interrupted", record.Genre)
			continue
		}
		logger.Infof("Getting song urls for %s", record.Genre)

		for ei := range record.Entries {
			entry := &record.Entries[ei]
			if entry.Resolved() {
				report.AlreadyResolved++
				continue
			}

			if err := ctx.Err(); err != nil {
				return out, report, r.persistOnExit(out, err)
			}

			url, outcome, err := r.resolveTitle(ctx, entry.Title, pool, &report)
			if err != nil {
				return out, report, r.persistOnExit(out, err)
			}

			switch outcome {
			case outcomeResolved:
				entry.URL = url
				report.Resolved++
				if err := r.saver.Save(out); err != nil {
					return out, report, fmt.Errorf("failed to persist progress: %w", err)
				}
			case outcomeNoMatch:
				report.NoMatch++
				logger.Warnf("Couldn't fetch song url of %s", entry.Title)
			case outcomeFailed:
				report.Failed++
			case outcomePoolExhausted:
				report.Exhausted = true
				logger.Warnf("all %d search tokens are exhausted; add more YOUTUBE_API_KEY<n> keys and re-run to resolve the remaining %d titles",
					pool.Len(), Unresolved(out))
				sentry.CaptureMessage("search token pool exhausted")
				if err := r.saver.Save(out); err != nil {
					return out, report, fmt.Errorf("failed to persist progress: %w", err)
				}
				return out, report, nil
			}
		}

		total, resolved := record.Counts()
		logger.Infof("Got %d/%d song urls for %s", resolved, total, record.Genre)
		if err := r.saver.Save(out); err != nil {
			return out, report, fmt.Errorf("failed to persist progress: %w", err)
		}
	}

	return out, report, nil
}

// resolveTitle queries the search service for one title, moving to the next
// token whenever the current one is rejected. A non-nil error is only
// returned when ctx is done.
func (r *Resolver) resolveTitle(ctx context.Context, title string, pool *TokenPool, report *Report) (string, titleOutcome, error) {
	logger := r.logger.WithFields(log.Fields{"title": title})

	for {
		token, ok := pool.Current()
		if !ok {
			return "", outcomePoolExhausted, nil
		}

		report.Queries++
		url, err := r.searcher.Search(ctx, token, title+" Lyrics")

		var statusErr *youtube.StatusError
		switch {
		case err == nil:
			logger.Tracef("resolved to %s", url)
			return url, outcomeResolved, nil
		case errors.As(err, &statusErr):
			logger.Warnf("search token %d/%d rejected (status %d), rotating", pool.Cursor()+1, pool.Len(), statusErr.Code)
			if pool.MarkExhausted() {
				return "", outcomePoolExhausted, nil
			}
		case errors.Is(err, youtube.ErrNoMatch):
			return "", outcomeNoMatch, nil
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", outcomeFailed, ctxErr
			}
			logger.Errorf("search failed, leaving unresolved: %v", err)
			sentry.CaptureException(err)
			return "", outcomeFailed, nil
		}
	}
}

func (r *Resolver) persistOnExit(records []progress.GenreRecord, cause error) error {
	if err := r.saver.Save(records); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to persist progress: %w", err))
	}
	return cause
}

func cloneRecords(records []progress.GenreRecord) []progress.GenreRecord {
	out := make([]progress.GenreRecord, len(records))
	for i, r := range records {
		out[i] = progress.GenreRecord{
			Genre:   r.Genre,
			Entries: append([]progress.TitleEntry(nil), r.Entries...),
			Sealed:  r.Sealed,
		}
	}
	return out
}
