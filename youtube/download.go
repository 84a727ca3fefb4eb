package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	sentry "github.com/getsentry/sentry-go"
	kkyoutube "github.com/kkdai/youtube/v2"
	log "github.com/sirupsen/logrus"
)

// ErrNoAudioStream means the video has no audio-only format to download.
var ErrNoAudioStream = errors.New("no audio stream available")

type DownloadResult struct {
	Title    string
	Bytes    int64
	Duration time.Duration // length of the media, not of the download
}

// Downloader fetches the best audio-only stream of a video.
type Downloader struct {
	client *kkyoutube.Client
	logger *log.Entry
}

func NewDownloader() *Downloader {
	return &Downloader{
		client: &kkyoutube.Client{},
		logger: log.WithFields(log.Fields{"module": "youtube-downloader"}),
	}
}

// Download writes the audio stream of videoURL to w.
func (d *Downloader) Download(ctx context.Context, videoURL string, w io.Writer) (DownloadResult, error) {
	logger := d.logger.WithFields(log.Fields{"video_id": ParseYoutubeUrl(videoURL), "function": "Download"})

	span := sentry.StartSpan(ctx, "youtube.download")
	span.Description = "Download audio stream"
	span.SetTag("url", videoURL)
	defer span.Finish()

	video, err := d.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return DownloadResult{}, fmt.Errorf("failed to get video metadata: %w", err)
	}

	format, err := bestAudioFormat(video.Formats)
	if err != nil {
		span.Status = sentry.SpanStatusNotFound
		return DownloadResult{}, err
	}
	logger.Tracef("selected format itag=%d mime=%s bitrate=%d", format.ItagNo, format.MimeType, format.Bitrate)

	stream, _, err := d.client.GetStreamContext(ctx, video, format)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return DownloadResult{}, fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	written, err := io.Copy(w, stream)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return DownloadResult{}, fmt.Errorf("failed to read audio stream: %w", err)
	}

	span.Status = sentry.SpanStatusOK
	span.SetData("bytes", written)
	return DownloadResult{
		Title:    video.Title,
		Bytes:    written,
		Duration: video.Duration,
	}, nil
}

// bestAudioFormat picks the highest bitrate audio-only format.
func bestAudioFormat(formats kkyoutube.FormatList) (*kkyoutube.Format, error) {
	var best *kkyoutube.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || f.QualityLabel != "" {
			continue // video or muxed
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	if best == nil {
		return nil, ErrNoAudioStream
	}
	return best, nil
}
