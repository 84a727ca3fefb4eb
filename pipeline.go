package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"genrecorpus/progress"
	"genrecorpus/resolver"
	"genrecorpus/sentryhelper"
	"genrecorpus/spotify"
)

// skippedGenresError lists genres whose catalog fetch failed.
type skippedGenresError struct {
	genres []string
}

func (e *skippedGenresError) Error() string {
	return fmt.Sprintf("failed to collect %d genres: %s", len(e.genres), strings.Join(e.genres, ", "))
}

type catalog interface {
	Validate(ctx context.Context, genres []string) ([]string, error)
	FetchTitles(ctx context.Context, genre string, count int) ([]string, error)
}

type titleStore interface {
	Load() ([]progress.GenreRecord, error)
	Append(genre string, entry progress.TitleEntry) error
	FinalizeGenre(genre string) error
	Save(records []progress.GenreRecord) error
}

// collect seeds the progress file with catalog titles for every genre that
// does not have a sealed block yet. A genre whose fetch fails is skipped and
// reported in the returned error once the others are done.
func collect(ctx context.Context, store titleStore, cat catalog, genres []string, count int) error {
	logger := log.WithFields(log.Fields{"module": "collect"})
	ctx, tx := sentryhelper.StartStageTransaction(ctx, "collect", "")
	defer tx.Finish()

	if _, err := cat.Validate(ctx, genres); err != nil {
		return err
	}

	records, err := store.Load()
	if err != nil {
		return err
	}

	sealed := map[string]bool{}
	kept := make([]progress.GenreRecord, 0, len(records))
	for _, r := range records {
		if !r.Sealed {
			logger.Warnf("discarding %d titles of interrupted genre %s", len(r.Entries), r.Genre)
			continue
		}
		sealed[r.Genre] = true
		kept = append(kept, r)
	}
	if len(kept) != len(records) {
		if err := store.Save(kept); err != nil {
			return err
		}
	}

	var failed []string
	for _, genre := range genres {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sealed[genre] {
			logger.Infof("%s already collected", genre)
			continue
		}

		logger.Infof("Getting %d songs for %s", count, genre)
		titles, err := cat.FetchTitles(ctx, genre, count)
		var fetchErr *spotify.CatalogFetchError
		if errors.As(err, &fetchErr) {
			logger.Errorf("skipping %s: %v", genre, err)
			sentryhelper.CaptureException(ctx, err)
			failed = append(failed, genre)
			continue
		}
		if err != nil {
			return err
		}

		stored := 0
		for _, title := range titles {
			if !progress.ValidTitle(title) {
				logger.Warnf("dropping title %q of %s, it cannot be stored", title, genre)
				continue
			}
			if err := store.Append(genre, progress.TitleEntry{Title: title}); err != nil {
				return err
			}
			stored++
		}
		if err := store.FinalizeGenre(genre); err != nil {
			return err
		}
		sealed[genre] = true
		logger.Infof("Got %d songs for %s", stored, genre)
	}

	if len(failed) > 0 {
		return &skippedGenresError{genres: failed}
	}
	return nil
}

// resolve fills in media URLs for every unresolved title on file.
func resolve(ctx context.Context, store titleStore, searcher resolver.Searcher, tokens []string) (resolver.Report, error) {
	ctx, tx := sentryhelper.StartStageTransaction(ctx, "resolve", "")
	defer tx.Finish()

	records, err := store.Load()
	if err != nil {
		return resolver.Report{}, err
	}

	pool := resolver.NewTokenPool(tokens)
	records, report, err := resolver.New(searcher, store).Resolve(ctx, records, pool)
	if err != nil {
		return report, err
	}

	logger := log.WithFields(log.Fields{"module": "resolve"})
	for _, r := range records {
		total, resolved := r.Counts()
		logger.Infof("%s: %d/%d titles resolved", r.Genre, resolved, total)
	}
	logger.Infof("%d resolved this run, %d already resolved, %d without a match, %d failed, %d left",
		report.Resolved, report.AlreadyResolved, report.NoMatch, report.Failed, resolver.Unresolved(records))
	return report, nil
}
