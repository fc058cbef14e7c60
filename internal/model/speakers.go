package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ekisa-team/melotts/internal/backend"
)

// checkpointConfig is the subset of a MeloTTS config.json read here.
type checkpointConfig struct {
	Data struct {
		SamplingRate int            `json:"sampling_rate"`
		Spk2ID       map[string]int `json:"spk2id"`
	} `json:"data"`
}

// ReadSpeakerTable reads data.spk2id from the config.json in modelDir.
func ReadSpeakerTable(modelDir string) (SpeakerTable, error) {
	data, err := os.ReadFile(filepath.Join(modelDir, "config.json"))
	if err != nil {
		return nil, err
	}

	var cfg checkpointConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(modelDir, "config.json"), err)
	}

	table := make(SpeakerTable, len(cfg.Data.Spk2ID))
	for name, id := range cfg.Data.Spk2ID {
		table[name] = backend.Speaker{Name: name, ID: id}
	}

	return table, nil
}

// StaticSpeakerTable numbers names in the given order.
func StaticSpeakerTable(names []string) SpeakerTable {
	table := make(SpeakerTable, len(names))
	for i, name := range names {
		table[name] = backend.Speaker{Name: name, ID: i}
	}
	return table
}
