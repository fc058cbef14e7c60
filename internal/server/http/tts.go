package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/melotts/internal/audio"
	"github.com/ekisa-team/melotts/internal/service"
)

type (
	SpeechRequestDTO struct {
		Model          string  `json:"model,omitempty"           default:"tts-1"      doc:"Accepted for OpenAI compatibility, not used for routing"`
		Input          string  `json:"input"                     doc:"Text to synthesize"`
		Voice          string  `json:"voice,omitempty"           default:"EN-Default" doc:"Voice id, <LANGUAGE>-<Speaker>. Unknown voices fall back to an available one"`
		ResponseFormat string  `json:"response_format,omitempty" default:"opus"       doc:"wav, mp3 or opus. Anything else is served as wav"`
		Speed          float64 `json:"speed,omitempty"           default:"1.0"        exclusiveMinimum:"0" doc:"Playback speed multiplier"`
	}

	VoiceDTO struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Object   string `json:"object"   enum:"voice"`
		Category string `json:"category" example:"melo_en"`
		Language string `json:"language" example:"EN"`
	}

	VoicesResponseDTO struct {
		Voices []VoiceDTO `json:"voices"`
	}
)

type (
	SpeechInput struct {
		Body SpeechRequestDTO
	}

	SpeechOutput struct {
		ContentType   string `header:"Content-Type"`
		VoiceResolved string `header:"X-Voice-Resolved"`
		SampleRate    string `header:"X-Sample-Rate"`
		AudioFallback string `header:"X-Audio-Fallback"`
		Body          []byte
	}

	VoicesOutput struct {
		Body VoicesResponseDTO
	}
)

// TTSHandler handles HTTP requests for TTS.
type TTSHandler struct {
	service *service.TTS
}

// NewTTSHandler creates a new TTSHandler instance.
func NewTTSHandler(api huma.API, service *service.TTS) *TTSHandler {
	h := &TTSHandler{service: service}

	huma.Register(api, huma.Operation{
		OperationID:   "create-speech",
		Method:        http.MethodPost,
		Path:          "/v1/audio/speech",
		Summary:       "Generate audio from the input text",
		Description:   "OpenAI compatible. The Content-Type header names the format actually produced: opus requests are answered with wav when opus encoding fails.",
		Tags:          []string{"tts"},
		DefaultStatus: http.StatusOK,
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Encoded audio",
				Content: map[string]*huma.MediaType{
					audio.ContentTypeOpus: {},
					audio.ContentTypeMP3:  {},
					audio.ContentTypeWAV:  {},
				},
			},
		},
	}, h.handleSpeech)

	huma.Register(api, huma.Operation{
		OperationID: "list-voices",
		Method:      http.MethodGet,
		Path:        "/v1/audio/voices",
		Summary:     "List available voices",
		Tags:        []string{"tts"},
	}, h.handleVoices)

	return h
}

// handleSpeech handles the create-speech operation.
func (h *TTSHandler) handleSpeech(ctx context.Context, input *SpeechInput) (*SpeechOutput, error) {
	res, err := h.service.Synthesize(ctx, service.SpeechRequest{
		Model:  input.Body.Model,
		Input:  input.Body.Input,
		Voice:  input.Body.Voice,
		Format: audio.Format(input.Body.ResponseFormat),
		Speed:  input.Body.Speed,
	})
	if err != nil {
		return nil, speechError(err)
	}

	return &SpeechOutput{
		ContentType:   res.ContentType,
		VoiceResolved: res.Voice.VoiceID,
		SampleRate:    strconv.Itoa(res.SampleRate),
		AudioFallback: string(res.Encoding.Fallback),
		Body:          res.Audio,
	}, nil
}

// handleVoices handles the list-voices operation.
func (h *TTSHandler) handleVoices(_ context.Context, _ *struct{}) (*VoicesOutput, error) {
	voices := h.service.Voices()

	out := &VoicesOutput{Body: VoicesResponseDTO{Voices: make([]VoiceDTO, 0, len(voices))}}
	for _, v := range voices {
		out.Body.Voices = append(out.Body.Voices, VoiceDTO{
			ID:       v.ID,
			Name:     v.Name,
			Object:   "voice",
			Category: v.Category,
			Language: v.Language,
		})
	}

	return out, nil
}

func speechError(err error) error {
	switch {
	case service.IsClientError(err):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, service.ErrNoModelLoaded):
		return huma.Error503ServiceUnavailable("No language model is loaded", err)
	case errors.Is(err, context.Canceled):
		return huma.NewError(499, "Request canceled")
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
