package domain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/infra"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	Kind    models.EventKind
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events map[string][]sentEvent
	onSend func(kind models.EventKind)
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[string][]sentEvent)}
}

func (n *recordingNotifier) Send(sessionID string, kind models.EventKind, payload any) {
	n.mu.Lock()
	n.events[sessionID] = append(n.events[sessionID], sentEvent{Kind: kind, Payload: payload})
	hook := n.onSend
	n.mu.Unlock()
	if hook != nil {
		hook(kind)
	}
}

func (n *recordingNotifier) kinds(sessionID string) []models.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.EventKind
	for _, e := range n.events[sessionID] {
		out = append(out, e.Kind)
	}
	return out
}

func (n *recordingNotifier) captions(sessionID string) []models.Caption {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Caption
	for _, e := range n.events[sessionID] {
		if c, ok := e.Payload.(models.Caption); ok {
			out = append(out, c)
		}
	}
	return out
}

func (n *recordingNotifier) last(sessionID string) sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	evs := n.events[sessionID]
	return evs[len(evs)-1]
}

// fakeExtractor writes an empty audio file next to the input.
type fakeExtractor struct {
	dir string
	err error
}

func (f *fakeExtractor) Run(ctx context.Context, input string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	p := filepath.Join(f.dir, "audio_"+filepath.Base(input)+".wav")
	return p, os.WriteFile(p, []byte("RIFF"), 0o644)
}

type fakeFetcher struct {
	dir string
}

func (f *fakeFetcher) Run(ctx context.Context, pageURL string) (string, error) {
	p := filepath.Join(f.dir, "youtube_fetched.wav")
	return p, os.WriteFile(p, []byte("RIFF"), 0o644)
}

type fakeTranscriber struct {
	caps []models.Caption
	err  error
}

func (f *fakeTranscriber) Run(ctx context.Context, audioPath string) ([]models.Caption, error) {
	return f.caps, f.err
}

type fakeCaptionTranslator struct {
	fail map[int]bool
}

func (f *fakeCaptionTranslator) Run(ctx context.Context, c models.Caption, src, dst string) (models.Caption, error) {
	if f.fail[c.Sequence] {
		return c, apperr.Newf(apperr.KindTranslation, "translate caption", "upstream down")
	}
	c.Text = "[" + dst + "] " + c.Text
	return c, nil
}

type pipelineEnv struct {
	p     *CaptionPipeline
	n     *recordingNotifier
	repo  ports.CaptionRepository
	dir   string
	input string
}

func newPipeline(t *testing.T, st PipelineStations) pipelineEnv {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "video_abc.mp4")
	require.NoError(t, os.WriteFile(input, []byte("video"), 0o644))

	if st.Extract == nil {
		st.Extract = &fakeExtractor{dir: dir}
	}
	n := newRecordingNotifier()
	repo := infra.NewMemoryCaptionRepo()
	p := NewCaptionPipeline(st, n, repo, "en-IN", "en-IN", nopLogger())
	return pipelineEnv{p: p, n: n, repo: repo, dir: dir, input: input}
}

func threeCaptions() []models.Caption {
	return []models.Caption{
		{Text: "one", StartTime: 0, EndTime: 1},
		{Text: "two", StartTime: 1, EndTime: 2},
		{Text: "three", StartTime: 2, EndTime: 3},
	}
}

func TestPipeline_BaseLanguageStreamsInOrder(t *testing.T) {
	env := newPipeline(t, PipelineStations{
		Transcribe: &fakeTranscriber{caps: threeCaptions()},
		Translate:  &fakeCaptionTranslator{},
	})

	run := env.p.Run(context.Background(), models.PipelineJob{SessionID: "s1", InputPath: env.input, TargetLanguage: "en"})
	assert.Equal(t, models.StageComplete, run.Stage)
	assert.Equal(t, 3, run.TotalCaptions)

	assert.Equal(t, []models.EventKind{
		models.EventStatus, models.EventStatus, models.EventStatus,
		models.EventCaption, models.EventCaption, models.EventCaption,
		models.EventTranscriptionComplete,
	}, env.n.kinds("s1"))

	caps := env.n.captions("s1")
	assert.Equal(t, []string{"one", "two", "three"}, []string{caps[0].Text, caps[1].Text, caps[2].Text})
	assert.Equal(t, models.CompletePayload{TotalCaptions: 3, Language: "en-IN"}, env.n.last("s1").Payload)

	// input and audio are both gone
	assert.Empty(t, listDir(t, env.dir))

	stored, err := env.repo.ListCaptions(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	saved, err := env.repo.GetRun(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StageComplete, saved.Stage)
}

func TestPipeline_TranslationFailureKeepsOriginal(t *testing.T) {
	env := newPipeline(t, PipelineStations{
		Transcribe: &fakeTranscriber{caps: threeCaptions()},
		Translate:  &fakeCaptionTranslator{fail: map[int]bool{1: true}},
	})

	run := env.p.Run(context.Background(), models.PipelineJob{SessionID: "s1", InputPath: env.input, TargetLanguage: "hi"})
	assert.Equal(t, models.StageComplete, run.Stage)
	assert.Equal(t, "hi-IN", run.Language)

	caps := env.n.captions("s1")
	require.Len(t, caps, 3)
	assert.Equal(t, "[hi-IN] one", caps[0].Text)
	assert.Equal(t, "two", caps[1].Text)
	assert.Equal(t, "[hi-IN] three", caps[2].Text)
	assert.Equal(t, 2.0, caps[2].StartTime)
	assert.Equal(t, models.CompletePayload{TotalCaptions: 3, Language: "hi-IN"}, env.n.last("s1").Payload)
}

func TestPipeline_ZeroCaptions(t *testing.T) {
	env := newPipeline(t, PipelineStations{Transcribe: &fakeTranscriber{}})

	run := env.p.Run(context.Background(), models.PipelineJob{SessionID: "s1", InputPath: env.input})
	assert.Equal(t, models.StageComplete, run.Stage)
	assert.Empty(t, env.n.captions("s1"))
	assert.Equal(t, models.CompletePayload{TotalCaptions: 0, Language: "en-IN"}, env.n.last("s1").Payload)
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	env := newPipeline(t, PipelineStations{
		Extract:    &fakeExtractor{err: apperr.Newf(apperr.KindExtraction, "extract audio", "no audio stream in input")},
		Transcribe: &fakeTranscriber{caps: threeCaptions()},
	})

	run := env.p.Run(context.Background(), models.PipelineJob{SessionID: "s1", InputPath: env.input})
	assert.Equal(t, models.StageErrored, run.Stage)
	assert.NotEmpty(t, run.Error)

	kinds := env.n.kinds("s1")
	assert.Equal(t, models.EventError, kinds[len(kinds)-1])
	terminal := 0
	for _, k := range kinds {
		if k == models.EventError || k == models.EventTranscriptionComplete {
			terminal++
		}
		assert.NotEqual(t, models.EventCaption, k)
	}
	assert.Equal(t, 1, terminal)

	payload := env.n.last("s1").Payload.(models.ErrorPayload)
	assert.Equal(t, string(apperr.KindExtraction), payload.Kind)
	assert.Empty(t, listDir(t, env.dir))
}

func TestPipeline_TranscriptionFailure(t *testing.T) {
	env := newPipeline(t, PipelineStations{
		Transcribe: &fakeTranscriber{err: apperr.New(apperr.KindTranscription, "transcribe", errors.New("http 500"))},
	})

	run := env.p.Run(context.Background(), models.PipelineJob{SessionID: "s1", InputPath: env.input})
	assert.Equal(t, models.StageErrored, run.Stage)
	assert.Equal(t, string(apperr.KindTranscription), env.n.last("s1").Payload.(models.ErrorPayload).Kind)
	assert.Empty(t, listDir(t, env.dir))
}

func TestPipeline_URLSource(t *testing.T) {
	dir := t.TempDir()
	env := newPipeline(t, PipelineStations{
		Fetch:      &fakeFetcher{dir: dir},
		Extract:    &fakeExtractor{dir: dir},
		Transcribe: &fakeTranscriber{caps: threeCaptions()[:1]},
	})

	run := env.p.Run(context.Background(), models.PipelineJob{SessionID: "s1", SourceURL: "https://example.com/v"})
	assert.Equal(t, models.StageComplete, run.Stage)
	assert.Equal(t, 1, run.TotalCaptions)
	assert.Empty(t, listDir(t, dir))
}

func TestPipeline_CancelStopsEvents(t *testing.T) {
	env := newPipeline(t, PipelineStations{Transcribe: &fakeTranscriber{caps: threeCaptions()}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.n.onSend = func(kind models.EventKind) {
		if kind == models.EventCaption {
			cancel()
		}
	}

	run := env.p.Run(ctx, models.PipelineJob{SessionID: "s1", InputPath: env.input})
	assert.Equal(t, models.StageCancelled, run.Stage)
	assert.Len(t, env.n.captions("s1"), 1)
	for _, k := range env.n.kinds("s1") {
		assert.NotEqual(t, models.EventTranscriptionComplete, k)
		assert.NotEqual(t, models.EventError, k)
	}
	assert.Empty(t, listDir(t, env.dir))
}

func TestPipeline_CancelledBeforeStart(t *testing.T) {
	env := newPipeline(t, PipelineStations{Transcribe: &fakeTranscriber{caps: threeCaptions()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := env.p.Run(ctx, models.PipelineJob{SessionID: "s1", InputPath: env.input})
	assert.Equal(t, models.StageCancelled, run.Stage)
	assert.Empty(t, env.n.kinds("s1"))
	assert.Empty(t, listDir(t, env.dir))
}
