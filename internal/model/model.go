package model

import (
	"sort"
	"time"

	"github.com/ekisa-team/melotts/internal/backend"
)

// ModelStatus is the loading status of a language model.
type ModelStatus string

const (
	// ModelStatusLoaded indicates that the model is registered and serving.
	ModelStatusLoaded ModelStatus = "loaded"

	// ModelStatusFailed indicates that the model failed to load.
	ModelStatusFailed ModelStatus = "failed"

	// ModelStatusDisabled indicates that the language is not configured.
	ModelStatusDisabled ModelStatus = "disabled"
)

// SpeakerTable maps voice ids to speaker handles.
type SpeakerTable map[string]backend.Speaker

// IDs returns the voice ids in lexicographic order.
func (t SpeakerTable) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LanguageModel is one loaded language: its speakers and the backend that
// synthesizes it.
type LanguageModel struct {
	Language   string
	Family     string
	ModelPath  string
	Speakers   SpeakerTable
	Parameters map[string]any
	Backend    backend.Backend
	LoadedAt   time.Time
}

// Category is the voice catalog tag, e.g. "melo_en".
func (m *LanguageModel) Category() string {
	return categoryOf(m.Family, m.Language)
}

// LoadReport records the outcome of loading one language.
type LoadReport struct {
	Language string      `json:"language"`
	Status   ModelStatus `json:"status"`
	Speakers int         `json:"speakers,omitempty"`
	Error    string      `json:"error,omitempty"`
}
