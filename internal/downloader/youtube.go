package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"medianest/internal/models"
)

// YouTube is the concrete Adapter backed by kkdai/youtube.
type YouTube struct {
	client      youtube.Client
	downloadDir string
}

// NewYouTube creates an adapter writing results under downloadDir.
func NewYouTube(downloadDir string) *YouTube {
	return &YouTube{downloadDir: downloadDir}
}

// Resolve fetches lightweight metadata for a video or playlist URL.
func (y *YouTube) Resolve(ctx context.Context, sourceURL string) (*MediaInfo, error) {
	if isPlaylistURL(sourceURL) {
		playlist, err := y.client.GetPlaylistContext(ctx, sourceURL)
		if err != nil {
			return nil, fmt.Errorf("playlist info: %w", err)
		}
		var total int64
		for _, entry := range playlist.Videos {
			total += int64(entry.Duration / time.Second)
		}
		return &MediaInfo{
			Title:           playlist.Title,
			AuthorName:      playlist.Author,
			DurationSeconds: total,
			Kind:            models.KindCollection,
			ItemCount:       len(playlist.Videos),
		}, nil
	}

	video, err := y.client.GetVideoContext(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("video info: %w", err)
	}
	info := &MediaInfo{
		Title:           video.Title,
		AuthorName:      video.Author,
		DurationSeconds: int64(video.Duration / time.Second),
		Kind:            models.KindSingle,
		ItemCount:       1,
	}
	if len(video.Thumbnails) > 0 {
		info.ThumbnailRef = video.Thumbnails[len(video.Thumbnails)-1].URL
	}
	return info, nil
}

// Run downloads the job's media, streaming progress until a terminal
// outcome. A whole playlist runs inside this one call; per-item progress
// is folded into the job's single percentage.
func (y *YouTube) Run(ctx context.Context, job *models.DownloadJob) <-chan Outcome {
	out := make(chan Outcome, 16)
	go func() {
		defer close(out)
		var err error
		var resultRef string
		if job.Kind == models.KindCollection {
			resultRef, err = y.runCollection(ctx, job, out)
		} else {
			resultRef, err = y.runSingle(ctx, job, out)
		}
		if ctx.Err() != nil {
			return // aborted, no terminal outcome
		}
		if err != nil {
			send(ctx, out, Failed{Reason: err.Error()})
			return
		}
		send(ctx, out, Completed{ResultRef: resultRef})
	}()
	return out
}

func (y *YouTube) runSingle(ctx context.Context, job *models.DownloadJob, out chan<- Outcome) (string, error) {
	video, err := y.client.GetVideoContext(ctx, job.SourceURL)
	if err != nil {
		return "", fmt.Errorf("video info: %w", err)
	}

	dest := filepath.Join(y.downloadDir, job.ID+formatExtension(job.Format))
	progress := func(pct int, rate, eta *int64) {
		send(ctx, out, Progress{Percent: pct, Stage: models.StatusDownloading, TransferRate: rate, EtaSeconds: eta})
	}
	if err := y.downloadVideo(ctx, video, job.Format, dest, progress); err != nil {
		return "", err
	}

	// Finalize: give the file its user-facing name.
	send(ctx, out, Progress{Percent: 100, Stage: models.StatusProcessing})
	final := filepath.Join(y.downloadDir, sanitizeFilename(video.Title)+formatExtension(job.Format))
	if err := os.Rename(dest, final); err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}
	return final, nil
}

func (y *YouTube) runCollection(ctx context.Context, job *models.DownloadJob, out chan<- Outcome) (string, error) {
	playlist, err := y.client.GetPlaylistContext(ctx, job.SourceURL)
	if err != nil {
		return "", fmt.Errorf("playlist info: %w", err)
	}
	if len(playlist.Videos) == 0 {
		return "", fmt.Errorf("playlist is empty")
	}

	dir := filepath.Join(y.downloadDir, job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create collection directory: %w", err)
	}

	n := len(playlist.Videos)
	for i, entry := range playlist.Videos {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		video, err := y.client.VideoFromPlaylistEntryContext(ctx, entry)
		if err != nil {
			return "", fmt.Errorf("item %d/%d: %w", i+1, n, err)
		}
		dest := filepath.Join(dir, fmt.Sprintf("%02d_%s%s", i+1, sanitizeFilename(video.Title), formatExtension(job.Format)))
		item := i
		progress := func(pct int, rate, eta *int64) {
			send(ctx, out, Progress{
				Percent:      (item*100 + pct) / n,
				Stage:        models.StatusDownloading,
				TransferRate: rate,
				EtaSeconds:   eta,
			})
		}
		if err := y.downloadVideo(ctx, video, job.Format, dest, progress); err != nil {
			return "", fmt.Errorf("item %d/%d: %w", i+1, n, err)
		}
	}

	send(ctx, out, Progress{Percent: 100, Stage: models.StatusProcessing})
	return dir, nil
}

// downloadVideo streams one video into dest, reporting byte progress.
func (y *YouTube) downloadVideo(ctx context.Context, video *youtube.Video, formatKey, dest string, progress func(pct int, rate, eta *int64)) error {
	format := pickFormat(video.Formats, formatKey)
	if format == nil {
		return fmt.Errorf("no matching format for %s", formatKey)
	}

	stream, size, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	defer stream.Close()

	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer file.Close()

	if size == 0 {
		size = format.ContentLength
	}

	start := time.Now()
	lastReport := start
	var written int64
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return err
			}
			written += int64(n)
			if now := time.Now(); now.Sub(lastReport) >= 250*time.Millisecond && size > 0 {
				lastReport = now
				pct := int(written * 100 / size)
				if pct > 99 {
					pct = 99
				}
				rate, eta := transferStats(written, size, now.Sub(start))
				progress(pct, rate, eta)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

func transferStats(written, size int64, elapsed time.Duration) (rate, eta *int64) {
	if elapsed <= 0 || written == 0 {
		return nil, nil
	}
	r := int64(float64(written) / elapsed.Seconds())
	rate = &r
	if size > written && r > 0 {
		e := (size - written) / r
		eta = &e
	}
	return rate, eta
}

// send delivers an outcome unless the job was aborted in the meantime.
func send(ctx context.Context, out chan<- Outcome, o Outcome) {
	select {
	case out <- o:
	case <-ctx.Done():
	}
}

func isPlaylistURL(sourceURL string) bool {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return false
	}
	return u.Query().Get("list") != "" || strings.Contains(u.Path, "/playlist")
}

// formatExtension maps a quality/container key to a file extension.
func formatExtension(formatKey string) string {
	if _, container, ok := strings.Cut(formatKey, "/"); ok {
		return "." + container
	}
	return ".mp4"
}

// pickFormat selects a stream format for the requested quality/container.
// Video tiers prefer progressive streams (with audio channels) at or below
// the target height; the audio tier picks the best audio-only stream.
func pickFormat(formats youtube.FormatList, formatKey string) *youtube.Format {
	quality, _, _ := strings.Cut(formatKey, "/")
	if quality == "audio" {
		return bestAudioFormat(formats)
	}
	return bestVideoFormat(formats, parseHeight(quality))
}

func bestVideoFormat(formats youtube.FormatList, targetHeight int) *youtube.Format {
	var best *youtube.Format
	bestHeight := -1
	for i := range formats {
		f := &formats[i]
		if !strings.Contains(f.MimeType, "video") || f.AudioChannels == 0 {
			continue
		}
		h := parseHeight(f.QualityLabel)
		if h == targetHeight {
			return f
		}
		if h < targetHeight && h > bestHeight {
			best = f
			bestHeight = h
		}
	}
	if best != nil {
		return best
	}
	// Nothing at or below the target; take the smallest available.
	for i := range formats {
		f := &formats[i]
		if !strings.Contains(f.MimeType, "video") || f.AudioChannels == 0 {
			continue
		}
		if best == nil || parseHeight(f.QualityLabel) < parseHeight(best.QualityLabel) {
			best = f
		}
	}
	return best
}

func bestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(f.MimeType, "audio") {
			continue
		}
		if best == nil || (strings.Contains(f.MimeType, "mp4") && !strings.Contains(best.MimeType, "mp4")) {
			best = f
		}
	}
	return best
}

func parseHeight(q string) int {
	digits := ""
	for _, c := range q {
		if c >= '0' && c <= '9' {
			digits += string(c)
		} else if digits != "" {
			break
		}
	}
	val, _ := strconv.Atoi(digits)
	return val
}

func sanitizeFilename(name string) string {
	safe := strings.ReplaceAll(name, " ", "_")
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?"<>|`, r) {
			return -1
		}
		return r
	}, safe)
}
