package domain

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// supported maps a base language subtag to the regional code the speech
// and translate services expect.
var supported = map[string]string{
	"hi": "hi-IN",
	"en": "en-IN",
	"ta": "ta-IN",
	"te": "te-IN",
	"kn": "kn-IN",
	"ml": "ml-IN",
	"bn": "bn-IN",
	"gu": "gu-IN",
	"mr": "mr-IN",
	"pa": "pa-IN",
	"od": "od-IN",
}

// aliases for codes clients send that are not the service's own spelling.
var aliases = map[string]string{
	"or": "od",
}

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ResolveLanguage maps a client language code to a supported regional code.
// Unknown or empty codes resolve to fallback and report false.
func ResolveLanguage(code, fallback string) (string, bool) {
	c := strings.ToLower(strings.TrimSpace(code))
	c = strings.ReplaceAll(c, "_", "-")
	if c == "" {
		return fallback, false
	}

	base, _, _ := strings.Cut(c, "-")
	if a, ok := aliases[base]; ok {
		base = a
	}
	if full, ok := supported[base]; ok {
		return full, true
	}

	tag, err := language.Parse(c)
	if err != nil {
		return fallback, false
	}
	b, _ := tag.Base()
	name := b.String()
	if a, ok := aliases[name]; ok {
		name = a
	}
	if full, ok := supported[name]; ok {
		return full, true
	}
	return fallback, false
}

// SameLanguage compares two codes by their base language.
func SameLanguage(a, b string) bool {
	ba, _, _ := strings.Cut(strings.ToLower(a), "-")
	bb, _, _ := strings.Cut(strings.ToLower(b), "-")
	return ba == bb
}

// SupportedLanguages lists the regional codes with English display names.
func SupportedLanguages() []Language {
	namer := display.English.Languages()
	out := make([]Language, 0, len(supported))
	for base, full := range supported {
		lookup := base
		if base == "od" {
			lookup = "or"
		}
		name := namer.Name(language.Make(lookup))
		if name == "" {
			name = base
		}
		out = append(out, Language{Code: full, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
