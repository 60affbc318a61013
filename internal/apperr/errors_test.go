package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := WithIndex(KindMissingChunk, "merge", 3, errors.New("no such file"))
	wrapped := fmt.Errorf("accept chunk: %w", base)

	assert.Equal(t, KindMissingChunk, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindMissingChunk))
	assert.False(t, IsClient(wrapped))
	assert.Equal(t, "merge: missing_chunk (chunk 3): no such file", base.Error())

	var e *Error
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, 3, e.Index)
}

func TestClientKinds(t *testing.T) {
	assert.True(t, IsClient(New(KindUnsupportedFileType, "validate", nil)))
	assert.True(t, IsClient(Newf(KindValidation, "form", "missing %s", "session_id")))
	assert.False(t, IsClient(New(KindStorage, "put", nil)))
	assert.False(t, IsClient(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
