package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type ConfigStruct struct {
	Spotify     SpotifyConfig
	Youtube     YoutubeConfig
	Paths       PathsConfig
	Acquisition AcquisitionConfig
	Options     Options
	Sentry      SentryConfig
}

type SpotifyConfig struct {
	ClientID      string
	ClientSecret  string
	SongsPerGenre int
}

type YoutubeConfig struct {
	// APIKeys is the search token pool, in rotation order.
	APIKeys []string
}

type PathsConfig struct {
	SongsDir     string
	ProgressFile string
	LedgerPath   string
}

type AcquisitionConfig struct {
	Threads          int
	SegmentDuration  int // seconds
	MediaExt         string
	SegmentExt       string
	FFmpegPath       string
	DownloadTimeout  time.Duration
	TranscodeTimeout time.Duration
}

type Options struct {
	RequestTimeout time.Duration
	StatusPort     string
	LogLevel       string
}

type SentryConfig struct {
	DSN     string
	Release string
}

func (p *PathsConfig) OriginalDir() string {
	return filepath.Join(p.SongsDir, "original")
}

func (p *PathsConfig) SegmentDir(duration int) string {
	return filepath.Join(p.SongsDir, fmt.Sprintf("segment_%d", duration))
}

func (p *PathsConfig) LedgerEnabled() bool {
	return p.LedgerPath != ""
}

var Config *ConfigStruct

func NewConfig() {
	songsDir := getString("SONGS_DIR", "songs")
	progressFile := os.Getenv("PROGRESS_FILE")
	if progressFile == "" {
		progressFile = filepath.Join(songsDir, "song_progress.txt")
	}

	config := &ConfigStruct{
		Spotify: SpotifyConfig{
			ClientID:      os.Getenv("SPOTIFY_CLIENT_ID"),
			ClientSecret:  os.Getenv("SPOTIFY_CLIENT_SECRET"),
			SongsPerGenre: getSongsPerGenre(),
		},
		Youtube: YoutubeConfig{
			APIKeys: getYouTubeAPIKeys(),
		},
		Paths: PathsConfig{
			SongsDir:     songsDir,
			ProgressFile: progressFile,
			LedgerPath:   os.Getenv("LEDGER_PATH"),
		},
		Acquisition: AcquisitionConfig{
			Threads:          getThreads(),
			SegmentDuration:  getSegmentDuration(),
			MediaExt:         getString("MEDIA_EXT", "mp3"),
			SegmentExt:       getString("SEGMENT_EXT", "mp4"),
			FFmpegPath:       getString("FFMPEG_PATH", "ffmpeg"),
			DownloadTimeout:  getSeconds("DOWNLOAD_TIMEOUT_SECONDS", 300),
			TranscodeTimeout: getSeconds("TRANSCODE_TIMEOUT_SECONDS", 120),
		},
		Options: Options{
			RequestTimeout: getSeconds("REQUEST_TIMEOUT_SECONDS", 15),
			StatusPort:     getString("STATUS_PORT", "8080"),
			LogLevel:       getString("LOG_LEVEL", "info"),
		},
		Sentry: SentryConfig{
			DSN:     os.Getenv("SENTRY_DSN"),
			Release: os.Getenv("RELEASE"),
		},
	}

	Config = config
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getYouTubeAPIKeys reads YOUTUBE_API_KEY0..N-1. When YOUTUBE_API_KEY_COUNT is
// unset, keys are read until the first missing index. A lone YOUTUBE_API_KEY is
// accepted as a single-key pool.
func getYouTubeAPIKeys() []string {
	keys := []string{}

	count := -1
	if countStr := os.Getenv("YOUTUBE_API_KEY_COUNT"); countStr != "" {
		if n, err := strconv.Atoi(countStr); err == nil && n >= 0 {
			count = n
		}
	}

	for i := 0; count < 0 || i < count; i++ {
		key := os.Getenv(fmt.Sprintf("YOUTUBE_API_KEY%d", i))
		if key == "" {
			if count < 0 {
				break
			}
			continue
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		if key := os.Getenv("YOUTUBE_API_KEY"); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func getThreads() int {
	threadsStr := os.Getenv("THREADS")
	if threadsStr == "" {
		return 10
	}
	threads, err := strconv.Atoi(threadsStr)
	if err != nil || threads <= 0 {
		return 10
	}
	if threads > 64 {
		return 64 // more workers only trips the download rate limits
	}
	return threads
}

func getSegmentDuration() int {
	durationStr := os.Getenv("SEGMENT_DURATION")
	if durationStr == "" {
		return 30
	}
	duration, err := strconv.Atoi(durationStr)
	if err != nil || duration <= 0 {
		return 30
	}
	if duration > 600 {
		return 600
	}
	return duration
}

func getSongsPerGenre() int {
	countStr := os.Getenv("SONGS_PER_GENRE")
	if countStr == "" {
		return 50
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		return 50
	}
	if count > 10000 {
		return 10000
	}
	return count
}

func getSeconds(key string, fallback int) time.Duration {
	secondsStr := os.Getenv(key)
	if secondsStr == "" {
		return time.Duration(fallback) * time.Second
	}
	seconds, err := strconv.Atoi(secondsStr)
	if err != nil || seconds <= 0 {
		return time.Duration(fallback) * time.Second
	}
	return time.Duration(seconds) * time.Second
}
