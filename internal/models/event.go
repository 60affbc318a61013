package models

type EventKind string

const (
	EventStatus                EventKind = "status"
	EventCaption               EventKind = "caption"
	EventTranscriptionComplete EventKind = "transcription_complete"
	EventError                 EventKind = "error"
)

type StatusPayload struct {
	Message string `json:"message"`
}

type CompletePayload struct {
	TotalCaptions int    `json:"total_captions"`
	Language      string `json:"language"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
