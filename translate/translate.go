package translate

import (
	"context"
	"errors"
)

// ErrUnavailable wraps any backend error or timeout. Callers degrade
// gracefully: the transcription is still delivered, only the translated
// text is missing.
var ErrUnavailable = errors.New("translation unavailable")

// Translator converts text between languages. One call per final
// recognition result.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}
