package ports

import "context"

type TranslationService interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}
