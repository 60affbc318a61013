package stations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/google/uuid"
)

// S1FetchAudio downloads the audio track of a page URL with yt-dlp.
type S1FetchAudio struct {
	bin        string
	cookieFile string
	tempDir    string
	timeout    time.Duration
	log        *logger.ZapLogger
}

func NewS1FetchAudio(bin, cookieFile, tempDir string, timeout time.Duration, log *logger.ZapLogger) *S1FetchAudio {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &S1FetchAudio{
		bin:        bin,
		cookieFile: cookieFile,
		tempDir:    tempDir,
		timeout:    timeout,
		log:        log,
	}
}

// Run returns the path of the downloaded wav file. The caller owns it.
func (s *S1FetchAudio) Run(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperr.Newf(apperr.KindValidation, "fetch audio", "invalid url %q", trim(pageURL, 120))
	}
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", apperr.New(apperr.KindExtraction, "fetch audio", err)
	}

	start := time.Now()
	base := "youtube_" + uuid.NewString()
	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S1][START]",
		Fields:  map[string]any{"url": trim(pageURL, 200)},
	})

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := []string{
		"--no-playlist",
		"-f", "bestaudio/best",
		"-x", "--audio-format", "wav",
		"-o", filepath.Join(s.tempDir, base+".%(ext)s"),
	}
	if s.cookieFile != "" {
		args = append(args, "--cookies", s.cookieFile)
	}
	args = append(args, pageURL)

	stderr := newTailBuffer(maxErrPreview)
	cmd := exec.CommandContext(ctx, s.bin, args...)
	cmd.Stderr = stderr

	out := filepath.Join(s.tempDir, base+".wav")
	if err := cmd.Run(); err != nil {
		s.removeLeftovers(base)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("yt-dlp timed out after %s", s.timeout)
		} else if msg := stderr.String(); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S1][ERR]", Error: err})
		return "", apperr.New(apperr.KindExtraction, "fetch audio", err)
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		s.removeLeftovers(base)
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S1][ERR] empty output"})
		return "", apperr.Newf(apperr.KindExtraction, "fetch audio", "yt-dlp produced no audio")
	}

	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S1][OK]",
		Fields:  map[string]any{"bytes": info.Size(), "dur": time.Since(start).String()},
	})
	return out, nil
}

// removeLeftovers drops partial downloads yt-dlp may leave behind.
func (s *S1FetchAudio) removeLeftovers(base string) {
	matches, _ := filepath.Glob(filepath.Join(s.tempDir, base+".*"))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
