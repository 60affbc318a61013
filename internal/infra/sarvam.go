package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
)

type SarvamOptions struct {
	BaseURL        string
	APIKey         string
	STTModel       string
	TranslateModel string
	TranslateMode  string
	HTTPClient     *http.Client
}

// SarvamClient talks to the speech-to-text and translate endpoints.
type SarvamClient struct {
	opts   SarvamOptions
	client *http.Client
}

var (
	_ ports.STTService         = (*SarvamClient)(nil)
	_ ports.TranslationService = (*SarvamClient)(nil)
)

func NewSarvamClient(opts SarvamOptions) *SarvamClient {
	c := opts.HTTPClient
	if c == nil {
		c = &http.Client{}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &SarvamClient{opts: opts, client: c}
}

func (s *SarvamClient) auth(req *http.Request) {
	req.Header.Set("api-subscription-key", s.opts.APIKey)
	req.Header.Set("Accept", "application/json")
}

type sttResponse struct {
	Transcript   string        `json:"transcript"`
	Confidence   float64       `json:"confidence"`
	LanguageCode string        `json:"language_code"`
	Timestamps   sttTimestamps `json:"timestamps"`
}

type sttWord struct {
	Word       string  `json:"word"`
	StartTime  float64 `json:"start_time"` // ms
	EndTime    float64 `json:"end_time"`   // ms
	Confidence float64 `json:"confidence"`
}

// sttTimestamps accepts either a list of word objects with millisecond times
// or the parallel-array form with times in seconds.
type sttTimestamps []models.Token

func (t *sttTimestamps) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = nil
		return nil
	}

	if b[0] == '[' {
		var words []sttWord
		if err := json.Unmarshal(b, &words); err != nil {
			return err
		}
		out := make([]models.Token, 0, len(words))
		for _, w := range words {
			out = append(out, models.Token{
				Word:       w.Word,
				StartMs:    w.StartTime,
				EndMs:      w.EndTime,
				Confidence: w.Confidence,
			})
		}
		*t = out
		return nil
	}

	var arrays struct {
		Words        []string  `json:"words"`
		StartSeconds []float64 `json:"start_time_seconds"`
		EndSeconds   []float64 `json:"end_time_seconds"`
		Confidence   []float64 `json:"confidence"`
	}
	if err := json.Unmarshal(b, &arrays); err != nil {
		return err
	}
	out := make([]models.Token, 0, len(arrays.Words))
	for i, w := range arrays.Words {
		tok := models.Token{Word: w}
		if i < len(arrays.StartSeconds) {
			tok.StartMs = arrays.StartSeconds[i] * 1000
		}
		if i < len(arrays.EndSeconds) {
			tok.EndMs = arrays.EndSeconds[i] * 1000
		}
		if i < len(arrays.Confidence) {
			tok.Confidence = arrays.Confidence[i]
		}
		out = append(out, tok)
	}
	*t = out
	return nil
}

func (s *SarvamClient) Recognize(
	ctx context.Context,
	audio io.Reader,
	filename, mimeType, language string,
) (*models.Transcript, error) {

	if s.opts.APIKey == "" {
		return nil, fmt.Errorf("no SARVAM_API_KEY")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeSTTForm(mw, audio, filename, mimeType, language, s.opts.STTModel)
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/speech-to-text", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	s.auth(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("sarvam stt request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sarvam stt http %d: %s", resp.StatusCode, trim(string(raw), 200))
	}

	var parsed sttResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("sarvam stt decode: %w", err)
	}

	lang := parsed.LanguageCode
	if lang == "" {
		lang = language
	}
	return &models.Transcript{
		Text:       parsed.Transcript,
		Confidence: parsed.Confidence,
		Language:   lang,
		Tokens:     []models.Token(parsed.Timestamps),
	}, nil
}

func writeSTTForm(mw *multipart.Writer, audio io.Reader, filename, mimeType, language, model string) error {
	if err := mw.WriteField("language_code", language); err != nil {
		return err
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return err
	}
	return mw.Close()
}

type translateRequest struct {
	Input      string `json:"input"`
	SourceLang string `json:"source_language_code"`
	TargetLang string `json:"target_language_code"`
	Model      string `json:"model,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// Translate returns an error on any non-2xx answer; callers decide the fallback.
func (s *SarvamClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if s.opts.APIKey == "" {
		return "", fmt.Errorf("no SARVAM_API_KEY")
	}

	body, err := json.Marshal(translateRequest{
		Input:      strings.ToValidUTF8(text, ""),
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Model:      s.opts.TranslateModel,
		Mode:       s.opts.TranslateMode,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	s.auth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sarvam translate request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("sarvam translate http %d: %s", resp.StatusCode, trim(string(raw), 200))
	}

	var out translateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("sarvam translate decode: %w", err)
	}
	if out.TranslatedText == "" {
		return text, nil
	}
	return out.TranslatedText, nil
}

func trim(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
