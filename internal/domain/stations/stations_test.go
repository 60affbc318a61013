package stations

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nopLogger() *logger.ZapLogger {
	return logger.NewZapLogger(zap.NewNop().Sugar())
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func wavBytes(pcm []byte) []byte {
	return append(wavHeader(uint32(len(pcm))), pcm...)
}

func TestWAVHeader(t *testing.T) {
	wav := wavBytes([]byte{1, 2, 3, 4})

	require.Len(t, wav, wavHeaderSize+4)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(40), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestWAVWriter_PatchesSizes(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(p)
	require.NoError(t, err)

	w, err := NewWAVWriter(f)
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 1000))
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 24))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), w.DataSize())
	require.NoError(t, w.Close())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Len(t, b, wavHeaderSize+1024)
	assert.Equal(t, wavBytes(make([]byte, 1024)), b)
}

func TestSegmentCaptions_Windows(t *testing.T) {
	tokens := make([]models.Token, 20)
	for i := range tokens {
		tokens[i] = models.Token{
			Word:       "w",
			StartMs:    float64(i * 500),
			EndMs:      float64(i*500 + 400),
			Confidence: 0.5,
		}
	}
	tokens[0].Confidence = 1.0

	caps := SegmentCaptions(&models.Transcript{Tokens: tokens}, 8)
	require.Len(t, caps, 3)

	assert.Equal(t, "w w w w w w w w", caps[0].Text)
	assert.InDelta(t, 0.0, caps[0].StartTime, 1e-9)
	assert.InDelta(t, 3.9, caps[0].EndTime, 1e-9)
	assert.InDelta(t, 4.5/8, caps[0].Confidence, 1e-9)

	assert.InDelta(t, 4.0, caps[1].StartTime, 1e-9)
	assert.Equal(t, 2, caps[2].Sequence)
	assert.Equal(t, "w w w w", caps[2].Text)
	assert.InDelta(t, 9.9, caps[2].EndTime, 1e-9)
}

func TestSegmentCaptions_Fallbacks(t *testing.T) {
	caps := SegmentCaptions(&models.Transcript{Text: " hello world ", Confidence: 0.7}, 8)
	require.Len(t, caps, 1)
	assert.Equal(t, models.Caption{Text: "hello world", Confidence: 0.7}, caps[0])

	assert.Empty(t, SegmentCaptions(&models.Transcript{}, 8))
	assert.Empty(t, SegmentCaptions(nil, 8))
}

type fakeSTT struct {
	gotLang string
	gotMIME string
	body    string
	result  *models.Transcript
	err     error
}

func (f *fakeSTT) Recognize(ctx context.Context, audio io.Reader, filename, mimeType, language string) (*models.Transcript, error) {
	b, _ := io.ReadAll(audio)
	f.body = string(b)
	f.gotLang = language
	f.gotMIME = mimeType
	return f.result, f.err
}

func TestS4Transcribe(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(p, []byte("pcm"), 0o644))

	stt := &fakeSTT{result: &models.Transcript{Tokens: []models.Token{
		{Word: "a", StartMs: 0, EndMs: 100, Confidence: 1},
		{Word: "b", StartMs: 100, EndMs: 200, Confidence: 1},
		{Word: "c", StartMs: 200, EndMs: 300, Confidence: 1},
	}}}
	s4 := NewS4Transcribe(stt, "en-IN", 2, time.Second, nopLogger())

	caps, err := s4.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, caps, 2)
	assert.Equal(t, "pcm", stt.body)
	assert.Equal(t, "en-IN", stt.gotLang)
	assert.Equal(t, "audio/wav", stt.gotMIME)
}

func TestS4Transcribe_Failure(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(p, []byte("pcm"), 0o644))

	s4 := NewS4Transcribe(&fakeSTT{err: errors.New("boom")}, "en-IN", 8, time.Second, nopLogger())
	_, err := s4.Run(context.Background(), p)
	assert.True(t, apperr.Is(err, apperr.KindTranscription))
}

type fakeTranslator struct {
	fail map[string]bool
}

func (f *fakeTranslator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	if f.fail[text] {
		return "", errors.New("upstream down")
	}
	return dst + ":" + text, nil
}

func TestS5Translate_FallbackKeepsText(t *testing.T) {
	s5 := NewS5Translate(&fakeTranslator{fail: map[string]bool{"bad": true}}, time.Second, nopLogger())

	c, err := s5.Run(context.Background(), models.Caption{Text: "good", StartTime: 1}, "en-IN", "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "hi-IN:good", c.Text)
	assert.Equal(t, 1.0, c.StartTime)

	c, err = s5.Run(context.Background(), models.Caption{Text: "bad", StartTime: 2, Confidence: 0.7}, "en-IN", "hi-IN")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTranslation, apperr.KindOf(err))
	assert.Equal(t, "bad", c.Text)
	assert.Equal(t, 2.0, c.StartTime)
	assert.Equal(t, 0.7, c.Confidence)
}

func TestS2ExtractAudio_WritesWAV(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `printf 'abcdefgh'`)
	tmp := filepath.Join(t.TempDir(), "audio")
	s2 := NewS2ExtractAudio(bin, tmp, 5*time.Second, nopLogger())

	out, err := s2.Run(context.Background(), "/some/video.mp4")
	require.NoError(t, err)
	assert.Equal(t, tmp, filepath.Dir(out))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, wavBytes([]byte("abcdefgh")), b)
}

func TestS2ExtractAudio_FailureLeavesNothing(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `echo "Invalid data found" >&2; exit 1`)
	tmp := filepath.Join(t.TempDir(), "audio")
	s2 := NewS2ExtractAudio(bin, tmp, 5*time.Second, nopLogger())

	_, err := s2.Run(context.Background(), "/some/video.mp4")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExtraction))
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.Empty(t, dirEntries(t, tmp))
}

type fullDisk struct{}

func (fullDisk) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

func TestS2Decode_WriteFailureStopsFFmpeg(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `exec cat /dev/zero`)
	s2 := NewS2ExtractAudio(bin, t.TempDir(), time.Minute, nopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err := s2.decode(ctx, "/some/video.mp4", fullDisk{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left on device")
	assert.NoError(t, ctx.Err())
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestS2ExtractAudio_EmptyOutputIsError(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `exit 0`)
	tmp := filepath.Join(t.TempDir(), "audio")
	s2 := NewS2ExtractAudio(bin, tmp, 5*time.Second, nopLogger())

	_, err := s2.Run(context.Background(), "/some/video.mp4")
	assert.True(t, apperr.Is(err, apperr.KindExtraction))
	assert.Empty(t, dirEntries(t, tmp))
}

func TestS1FetchAudio(t *testing.T) {
	bin := writeScript(t, "yt-dlp", `
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then shift; out="$1"; fi
  shift
done
printf 'RIFFdata' > "${out%.*}.wav"`)
	tmp := filepath.Join(t.TempDir(), "audio")
	s1 := NewS1FetchAudio(bin, "", tmp, 5*time.Second, nopLogger())

	out, err := s1.Run(context.Background(), "https://example.com/watch?v=1")
	require.NoError(t, err)
	assert.Equal(t, ".wav", filepath.Ext(out))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(b))
}

func TestS1FetchAudio_Rejects(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "audio")

	s1 := NewS1FetchAudio(writeScript(t, "yt-dlp", `exit 0`), "", tmp, 5*time.Second, nopLogger())
	_, err := s1.Run(context.Background(), "ftp://example.com/a")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = s1.Run(context.Background(), "https://example.com/a")
	assert.True(t, apperr.Is(err, apperr.KindExtraction))

	s1 = NewS1FetchAudio(writeScript(t, "yt-dlp", `echo "Video unavailable" >&2; exit 1`), "", tmp, 5*time.Second, nopLogger())
	_, err = s1.Run(context.Background(), "https://example.com/a")
	assert.True(t, apperr.Is(err, apperr.KindExtraction))
	assert.Contains(t, err.Error(), "Video unavailable")
	assert.Empty(t, dirEntries(t, tmp))
}
