package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kkyoutube "github.com/kkdai/youtube/v2"
)

func TestParseYoutubeUrl(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "watch video", url: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "bare host", url: "https://youtube.com/watch?v=abc123", want: "abc123"},
		{name: "youtu.be short", url: "https://youtu.be/dQw4w9WgXcQ", want: ""},
		{name: "invalid host", url: "https://example.com/watch?v=abc", want: ""},
		{name: "malformed URL", url: "%zz", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseYoutubeUrl(tt.url); got != tt.want {
				t.Errorf("ParseYoutubeUrl() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWatchURLRoundTrip(t *testing.T) {
	if got := ParseYoutubeUrl(WatchURL("42oK5vjD2UU")); got != "42oK5vjD2UU" {
		t.Errorf("ParseYoutubeUrl(WatchURL()) = %q", got)
	}
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		want       string
		wantStatus int
		wantNoHit  bool
	}{
		{
			name:   "match",
			status: http.StatusOK,
			body:   `{"items":[{"id":{"kind":"youtube#video","videoId":"42oK5vjD2UU"}}]}`,
			want:   "https://www.youtube.com/watch?v=42oK5vjD2UU",
		},
		{
			name:      "no items",
			status:    http.StatusOK,
			body:      `{"items":[]}`,
			wantNoHit: true,
		},
		{
			name:      "item without video id",
			status:    http.StatusOK,
			body:      `{"items":[{"id":{"kind":"youtube#channel","channelId":"UC1"}}]}`,
			wantNoHit: true,
		},
		{
			name:       "quota exceeded",
			status:     http.StatusForbidden,
			body:       `{"error":{"code":403,"message":"quotaExceeded"}}`,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "bad key",
			status:     http.StatusBadRequest,
			body:       `{"error":{"code":400,"message":"API key not valid"}}`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKey, gotQuery string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/youtube/v3/search" {
					t.Errorf("path = %s, want /youtube/v3/search", r.URL.Path)
				}
				gotKey = r.URL.Query().Get("key")
				gotQuery = r.URL.Query().Get("q")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := NewSearchClient(server.URL+"/", 5*time.Second)
			got, err := client.Search(context.Background(), "key-1", "Song A Lyrics")

			if gotKey != "key-1" {
				t.Errorf("key = %q, want key-1", gotKey)
			}
			if gotQuery != "Song A Lyrics" {
				t.Errorf("q = %q, want %q", gotQuery, "Song A Lyrics")
			}

			switch {
			case tt.wantStatus != 0:
				var statusErr *StatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("Search() error = %v, want *StatusError", err)
				}
				if statusErr.Code != tt.wantStatus {
					t.Errorf("StatusError.Code = %d, want %d", statusErr.Code, tt.wantStatus)
				}
			case tt.wantNoHit:
				if !errors.Is(err, ErrNoMatch) {
					t.Errorf("Search() error = %v, want ErrNoMatch", err)
				}
			default:
				if err != nil {
					t.Fatalf("Search() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("Search() = %q, want %q", got, tt.want)
				}
			}
		})
	}
}

func TestSearchReusesServicePerKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[{"id":{"videoId":"x"}}]}`)
	}))
	defer server.Close()

	client := NewSearchClient(server.URL+"/", 5*time.Second)
	for _, key := range []string{"a", "b", "a"} {
		if _, err := client.Search(context.Background(), key, "q"); err != nil {
			t.Fatalf("Search(%s): %v", key, err)
		}
	}
	if len(client.services) != 2 {
		t.Errorf("services = %d, want 2", len(client.services))
	}
}

func TestBestAudioFormat(t *testing.T) {
	tests := []struct {
		name     string
		formats  kkyoutube.FormatList
		wantItag int
		wantErr  bool
	}{
		{
			name: "highest bitrate audio",
			formats: kkyoutube.FormatList{
				{ItagNo: 18, QualityLabel: "360p", AudioChannels: 2, Bitrate: 500000},
				{ItagNo: 139, MimeType: "audio/mp4", AudioChannels: 2, Bitrate: 48000},
				{ItagNo: 140, MimeType: "audio/mp4", AudioChannels: 2, Bitrate: 128000},
				{ItagNo: 137, QualityLabel: "1080p", Bitrate: 4000000},
			},
			wantItag: 140,
		},
		{
			name: "video only",
			formats: kkyoutube.FormatList{
				{ItagNo: 137, QualityLabel: "1080p", Bitrate: 4000000},
			},
			wantErr: true,
		},
		{
			name:    "empty",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bestAudioFormat(tt.formats)
			if tt.wantErr {
				if !errors.Is(err, ErrNoAudioStream) {
					t.Errorf("bestAudioFormat() error = %v, want ErrNoAudioStream", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("bestAudioFormat() error = %v", err)
			}
			if got.ItagNo != tt.wantItag {
				t.Errorf("bestAudioFormat() itag = %d, want %d", got.ItagNo, tt.wantItag)
			}
		})
	}
}
