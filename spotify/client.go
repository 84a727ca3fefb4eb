package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	spotifyclient "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// PageSize is the most tracks the search endpoint returns per call.
const PageSize = 50

// InvalidGenreError rejects a requested genre missing from the catalog's
// genre vocabulary. It is fatal to the whole run.
type InvalidGenreError struct {
	Genre     string
	Available []string
}

func (e *InvalidGenreError) Error() string {
	return fmt.Sprintf("%s is not a valid genre. Available genres are: %s", e.Genre, strings.Join(e.Available, ", "))
}

// CatalogFetchError fails one genre's title list. HTTPStatus is 0 when the
// request never got a response.
type CatalogFetchError struct {
	Genre      string
	HTTPStatus int
	Err        error
}

func (e *CatalogFetchError) Error() string {
	return fmt.Sprintf("error fetching song names for %s (status code: %d): %v", e.Genre, e.HTTPStatus, e.Err)
}

func (e *CatalogFetchError) Unwrap() error {
	return e.Err
}

type Credentials struct {
	ClientID     string
	ClientSecret string
	// TokenURL and BaseURL override the public endpoints; tests point them at
	// an httptest server.
	TokenURL string
	BaseURL  string
}

type Client struct {
	api            *spotifyclient.Client
	requestTimeout time.Duration
	now            func() time.Time
	logger         *log.Entry

	genresOnce sync.Once
	genres     []string
	genresErr  error
}

// NewClient exchanges the client id/secret for a bearer token and returns a
// catalog client using it.
func NewClient(ctx context.Context, creds Credentials, requestTimeout time.Duration) (*Client, error) {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	config := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
	}

	tokenCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	token, err := config.Token(tokenCtx)
	if err != nil {
		sentry.CaptureException(err)
		return nil, fmt.Errorf("failed to get spotify access token: %w", err)
	}

	// reuse the validated token, re-running the client credentials grant once it expires
	httpClient := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, config.TokenSource(ctx)))
	opts := []spotifyclient.ClientOption{}
	if creds.BaseURL != "" {
		opts = append(opts, spotifyclient.WithBaseURL(creds.BaseURL))
	}

	return &Client{
		api:            spotifyclient.New(httpClient, opts...),
		requestTimeout: requestTimeout,
		now:            time.Now,
		logger:         log.WithFields(log.Fields{"module": "spotify"}),
	}, nil
}

// AvailableGenres fetches the genre vocabulary once per client.
func (c *Client) AvailableGenres(ctx context.Context) ([]string, error) {
	c.genresOnce.Do(func() {
		span := sentry.StartSpan(ctx, "spotify.genre_seeds")
		span.Description = "Get available genre seeds"
		defer span.Finish()

		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		genres, err := c.api.GetAvailableGenreSeeds(reqCtx)
		if err != nil {
			c.logger.Errorf("failed to fetch genre seeds: %v", err)
			sentry.CaptureException(err)
			span.Status = sentry.SpanStatusInternalError
			c.genresErr = fmt.Errorf("failed to fetch genre seeds: %w", err)
			return
		}
		sort.Strings(genres)
		c.genres = genres
		span.Status = sentry.SpanStatusOK
		c.logger.Debugf("fetched %d genre seeds", len(genres))
	})
	return c.genres, c.genresErr
}

// Validate returns genres unchanged when every one of them is in the
// catalog's vocabulary.
func (c *Client) Validate(ctx context.Context, genres []string) ([]string, error) {
	available, err := c.AvailableGenres(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(available))
	for _, g := range available {
		known[g] = struct{}{}
	}
	for _, g := range genres {
		if _, ok := known[g]; !ok {
			return nil, &InvalidGenreError{Genre: g, Available: available}
		}
	}
	return genres, nil
}

// FetchTitles returns up to count track titles for genre, in catalog order.
// Any failed page fails the genre; partial lists are never returned.
func (c *Client) FetchTitles(ctx context.Context, genre string, count int) ([]string, error) {
	logger := c.logger.WithFields(log.Fields{"genre": genre, "function": "FetchTitles"})
	if count <= 0 {
		return []string{}, nil
	}

	span := sentry.StartSpan(ctx, "spotify.fetch_titles")
	span.Description = "Search Spotify tracks by genre"
	span.SetTag("genre", genre)
	defer span.Finish()

	query := fmt.Sprintf("genre:%s year:2000-%d", genre, c.now().Year())
	pages := (count + PageSize - 1) / PageSize

	titles := make([]string, 0, count)
	for page := range pages {
		offset := page * PageSize
		limit := min(PageSize, count-offset)

		logger.Tracef("fetching page %d/%d (offset %d, limit %d)", page+1, pages, offset, limit)
		names, err := c.searchPage(ctx, query, offset, limit)
		if err != nil {
			logger.Errorf("page %d failed: %v", page+1, err)
			sentry.CaptureException(err)
			span.Status = sentry.SpanStatusInternalError
			return nil, &CatalogFetchError{Genre: genre, HTTPStatus: statusOf(err), Err: err}
		}
		titles = append(titles, names...)
	}

	span.Status = sentry.SpanStatusOK
	span.SetData("titles_count", len(titles))
	logger.Debugf("got %d song names for %s", len(titles), genre)
	return titles, nil
}

func (c *Client) searchPage(ctx context.Context, query string, offset, limit int) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	results, err := c.api.Search(reqCtx, query, spotifyclient.SearchTypeTrack,
		spotifyclient.Limit(limit),
		spotifyclient.Offset(offset))
	if err != nil {
		return nil, err
	}
	if results.Tracks == nil {
		return []string{}, nil
	}

	names := make([]string, 0, len(results.Tracks.Tracks))
	for _, track := range results.Tracks.Tracks {
		names = append(names, track.Name)
	}
	return names, nil
}

// statusOf digs the HTTP status out of a spotify client error.
func statusOf(err error) int {
	var apiErr spotifyclient.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var apiErrPtr *spotifyclient.Error
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Status
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return 0
}
