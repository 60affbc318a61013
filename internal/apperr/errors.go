package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindUnsupportedFileType Kind = "unsupported_file_type"
	KindInvalidIndex        Kind = "invalid_index"
	KindFileTooLarge        Kind = "file_too_large"
	KindStorage             Kind = "storage_failure"
	KindMissingChunk        Kind = "missing_chunk"
	KindConflict            Kind = "conflict"
	KindExtraction          Kind = "extraction_failed"
	KindTranscription       Kind = "transcription_failed"
	KindTranslation         Kind = "translation_failed"
)

// Error is a failure scoped to one request or one pipeline run.
type Error struct {
	Kind Kind
	Op   string
	// Index is the chunk index for InvalidIndex and MissingChunk, -1 otherwise.
	Index int
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s (chunk %d)", msg, e.Index)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Index: -1, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

func WithIndex(kind Kind, op string, index int, err error) *Error {
	return &Error{Kind: kind, Op: op, Index: index, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsClient reports whether err was caused by bad input from the caller.
func IsClient(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindUnsupportedFileType, KindInvalidIndex, KindFileTooLarge:
		return true
	}
	return false
}
