package translate

import (
	"context"
	"sync"
)

// StubTranslator is a deterministic Translator for tests. Dictionary
// entries map source text to translated text; unmapped text gets a
// "[targetLang] " prefix. Err, when set, fails every call.
type StubTranslator struct {
	Dictionary map[string]string
	Err        error
	Delay      func() // optional hook invoked before answering

	mu    sync.Mutex
	calls []string
}

func (s *StubTranslator) Translate(
	ctx context.Context,
	text, sourceLang, targetLang string,
) (string, error) {
	if s.Delay != nil {
		s.Delay()
	}

	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}
	if err := ctx.Err(); err != nil {
		return "", ErrUnavailable
	}
	if s.Dictionary != nil {
		if out, ok := s.Dictionary[text]; ok {
			return out, nil
		}
	}
	return "[" + targetLang + "] " + text, nil
}

// Calls returns the source texts translated so far.
func (s *StubTranslator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
