package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// ErrNoMatch means the search succeeded but the first result carried no video
// id. It costs no token budget.
var ErrNoMatch = errors.New("search result has no video id")

// StatusError is a non-success HTTP response from the search service: a rate
// limited, over-quota or invalid key.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("youtube search returned status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func WatchURL(videoID string) string {
	return watchURLPrefix + videoID
}

// ParseYoutubeUrl returns the v= video id of a watch URL, or "".
func ParseYoutubeUrl(_url string) string {
	parsedURL, err := url.Parse(_url)
	if err != nil {
		return ""
	}

	if parsedURL.Host == "www.youtube.com" || parsedURL.Host == "youtube.com" {
		return parsedURL.Query().Get("v")
	}

	return ""
}

// SearchClient queries the YouTube Data API with whichever key the caller
// passes; one API service is kept per key.
type SearchClient struct {
	endpoint       string
	requestTimeout time.Duration
	mutex          sync.Mutex
	services       map[string]*ytapi.Service
	logger         *log.Entry
}

// NewSearchClient builds a search client. An empty endpoint uses the public
// API.
func NewSearchClient(endpoint string, requestTimeout time.Duration) *SearchClient {
	return &SearchClient{
		endpoint:       endpoint,
		requestTimeout: requestTimeout,
		services:       make(map[string]*ytapi.Service),
		logger:         log.WithFields(log.Fields{"module": "youtube"}),
	}
}

func (c *SearchClient) service(ctx context.Context, apiKey string) (*ytapi.Service, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if service, ok := c.services[apiKey]; ok {
		return service, nil
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	service, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating YouTube client: %w", err)
	}
	c.services[apiKey] = service
	return service, nil
}

// Search returns the watch URL of the first video matching query.
func (c *SearchClient) Search(ctx context.Context, apiKey, query string) (string, error) {
	logger := c.logger.WithFields(log.Fields{"function": "Search", "query": query})

	span := sentry.StartSpan(ctx, "youtube.search")
	span.Description = "Search YouTube API"
	span.SetTag("query", query)
	defer span.Finish()

	service, err := c.service(ctx, apiKey)
	if err != nil {
		logger.Errorf("%v", err)
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	response, err := service.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(1).
		Context(reqCtx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			logger.Warnf("search rejected with status %d: %s", apiErr.Code, apiErr.Message)
			span.Status = sentry.SpanStatusResourceExhausted
			return "", &StatusError{Code: apiErr.Code, Err: err}
		}
		logger.Errorf("error querying YouTube: %v", err)
		span.Status = sentry.SpanStatusUnavailable
		return "", fmt.Errorf("error querying YouTube: %w", err)
	}

	if len(response.Items) == 0 || response.Items[0].Id == nil || response.Items[0].Id.VideoId == "" {
		span.Status = sentry.SpanStatusNotFound
		return "", ErrNoMatch
	}

	videoID := response.Items[0].Id.VideoId
	span.Status = sentry.SpanStatusOK
	logger.Tracef("found video %s", videoID)
	return WatchURL(videoID), nil
}
