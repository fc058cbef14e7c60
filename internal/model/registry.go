package model

import (
	"fmt"
	"strings"

	"github.com/ekisa-team/melotts/internal/backend"
)

// Fallback is a set of flags naming the fallback policies a resolution used.
type Fallback uint8

const (
	// FallbackLanguage is set when the voice prefix named a language that is
	// not loaded and the default language was used instead.
	FallbackLanguage Fallback = 1 << iota

	// FallbackSpeaker is set when the voice id is not a speaker of the
	// resolved language and its first speaker was used instead.
	FallbackSpeaker
)

// Has reports whether every flag in f2 is set.
func (f Fallback) Has(f2 Fallback) bool {
	return f&f2 == f2
}

func (f Fallback) String() string {
	var parts []string
	if f.Has(FallbackLanguage) {
		parts = append(parts, "language")
	}
	if f.Has(FallbackSpeaker) {
		parts = append(parts, "speaker")
	}
	if len(parts) == 0 {
		return "exact"
	}
	return strings.Join(parts, "+")
}

// Resolution is the outcome of resolving a voice id.
type Resolution struct {
	Model *LanguageModel
	// VoiceID is the speaker table key actually used.
	VoiceID  string
	Speaker  backend.Speaker
	Fallback Fallback
}

// Language returns the resolved language code.
func (r Resolution) Language() string {
	return r.Model.Language
}

// Exact reports whether no fallback policy fired.
func (r Resolution) Exact() bool {
	return r.Fallback == 0
}

// Voice is a catalog entry.
type Voice struct {
	ID       string
	Name     string
	Category string
	Language string
}

// Registry maps language codes to loaded language models. It is immutable
// once built and safe for concurrent use.
type Registry struct {
	models          map[string]*LanguageModel
	order           []string
	defaultLanguage string
}

// NewRegistry creates a registry. Iteration order is the order of models.
// Later duplicates of a language are ignored.
func NewRegistry(defaultLanguage string, models ...*LanguageModel) *Registry {
	r := &Registry{
		models:          make(map[string]*LanguageModel, len(models)),
		order:           make([]string, 0, len(models)),
		defaultLanguage: defaultLanguage,
	}

	for _, m := range models {
		if m == nil {
			continue
		}
		if _, exists := r.models[m.Language]; exists {
			continue
		}
		r.models[m.Language] = m
		r.order = append(r.order, m.Language)
	}

	return r
}

// Get returns the model loaded for language.
func (r *Registry) Get(language string) (*LanguageModel, bool) {
	m, ok := r.models[language]
	return m, ok
}

// Languages returns the loaded languages in registry order.
func (r *Registry) Languages() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of loaded languages.
func (r *Registry) Len() int {
	return len(r.order)
}

// DefaultLanguage returns the language used when a voice names none.
func (r *Registry) DefaultLanguage() string {
	return r.defaultLanguage
}

// Ready reports whether the default language is loaded.
func (r *Registry) Ready() bool {
	_, ok := r.models[r.defaultLanguage]
	return ok
}

// Resolve maps a voice id to a language model and speaker.
//
// The language is the upper-cased text before the first "-", or the default
// language when there is no "-". Unknown languages resolve to the default
// language. A voice id that is not a speaker of the resolved language gets
// the language's lexicographically first speaker. Resolve fails only with
// ErrNoModelLoaded, when the default language itself is missing.
func (r *Registry) Resolve(voiceID string) (Resolution, error) {
	var fallback Fallback

	candidate := r.defaultLanguage
	if prefix, _, found := strings.Cut(voiceID, "-"); found {
		candidate = strings.ToUpper(prefix)
	}

	m, ok := r.models[candidate]
	if !ok {
		m, ok = r.models[r.defaultLanguage]
		if !ok {
			return Resolution{}, fmt.Errorf("%w: voice %q, default language %s", ErrNoModelLoaded, voiceID, r.defaultLanguage)
		}
		fallback |= FallbackLanguage
	}

	if sp, ok := m.Speakers[voiceID]; ok {
		return Resolution{Model: m, VoiceID: voiceID, Speaker: sp, Fallback: fallback}, nil
	}

	ids := m.Speakers.IDs()
	if len(ids) == 0 {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNoSpeakers, m.Language)
	}

	return Resolution{
		Model:    m,
		VoiceID:  ids[0],
		Speaker:  m.Speakers[ids[0]],
		Fallback: fallback | FallbackSpeaker,
	}, nil
}

// Voices lists every (language, speaker) pair: registry order, then
// lexicographic voice id.
func (r *Registry) Voices() []Voice {
	var voices []Voice
	for _, lang := range r.order {
		m := r.models[lang]
		for _, id := range m.Speakers.IDs() {
			voices = append(voices, Voice{
				ID:       id,
				Name:     id,
				Category: m.Category(),
				Language: m.Language,
			})
		}
	}
	return voices
}

// DefaultVoice returns the first voice of Voices.
func (r *Registry) DefaultVoice() (string, bool) {
	for _, lang := range r.order {
		if ids := r.models[lang].Speakers.IDs(); len(ids) > 0 {
			return ids[0], true
		}
	}
	return "", false
}

func categoryOf(family, language string) string {
	if family == "" {
		family = "melo"
	}
	return family + "_" + strings.ToLower(language)
}
