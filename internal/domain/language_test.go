package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveLanguage(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"hi", "hi-IN", true},
		{"HI-in", "hi-IN", true},
		{"ta_IN", "ta-IN", true},
		{"en-US", "en-IN", true},
		{"or", "od-IN", true},
		{"od", "od-IN", true},
		{"", "en-IN", false},
		{"fr", "en-IN", false},
		{"not a tag", "en-IN", false},
	}
	for _, c := range cases {
		got, ok := ResolveLanguage(c.in, "en-IN")
		assert.Equal(t, c.want, got, c.in)
		assert.Equal(t, c.ok, ok, c.in)
	}
}

func TestSameLanguage(t *testing.T) {
	assert.True(t, SameLanguage("en-IN", "en"))
	assert.False(t, SameLanguage("hi-IN", "en-IN"))
}

func TestSupportedLanguages(t *testing.T) {
	langs := SupportedLanguages()
	assert.Len(t, langs, len(supported))
	for _, l := range langs {
		assert.NotEmpty(t, l.Name, l.Code)
	}
	assert.Contains(t, langs, Language{Code: "hi-IN", Name: "Hindi"})
}
