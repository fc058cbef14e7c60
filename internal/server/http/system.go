package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/melotts/internal/model"
	"github.com/ekisa-team/melotts/internal/service"
)

// ReportSource exposes the outcome of the last model load.
type ReportSource interface {
	Reports() []model.LoadReport
}

type (
	ConfigResponseDTO struct {
		Voices         []string `json:"voices"`
		DefaultVoice   *string  `json:"default_voice"`
		FlashSREnabled bool     `json:"flashsr_enabled" doc:"Whether the upsampling stage is enabled"`
		SampleRate     int      `json:"sample_rate"     doc:"Sample rate of the audio returned by /v1/audio/speech"`
	}

	RootResponseDTO struct {
		Message string `json:"message"`
		Docs    string `json:"docs"`
	}

	HealthResponseDTO struct {
		Status string             `json:"status" enum:"ok,ready"`
		Models []model.LoadReport `json:"models,omitempty"`
	}
)

type (
	ConfigOutput struct {
		Body ConfigResponseDTO
	}

	RootOutput struct {
		Body RootResponseDTO
	}

	HealthOutput struct {
		Body HealthResponseDTO
	}
)

// SystemHandler serves configuration, info and probe endpoints.
type SystemHandler struct {
	service *service.TTS
	reports ReportSource
}

// NewSystemHandler creates a new SystemHandler instance. reports may be nil.
func NewSystemHandler(api huma.API, service *service.TTS, reports ReportSource) *SystemHandler {
	h := &SystemHandler{service: service, reports: reports}

	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Get the server configuration",
		Tags:        []string{"system"},
	}, h.handleConfig)

	huma.Register(api, huma.Operation{
		OperationID: "get-root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Service information",
		Tags:        []string{"system"},
		Errors:      []int{http.StatusNotFound},
		Middlewares: huma.Middlewares{exactPath(api, "/")},
	}, h.handleRoot)

	huma.Register(api, huma.Operation{
		OperationID: "healthz",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Liveness probe",
		Tags:        []string{"system"},
	}, h.handleHealth)

	huma.Register(api, huma.Operation{
		OperationID: "readyz",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Ready once the default language model is loaded.",
		Tags:        []string{"system"},
		Errors:      []int{http.StatusServiceUnavailable},
	}, h.handleReady)

	return h
}

func (h *SystemHandler) handleConfig(_ context.Context, _ *struct{}) (*ConfigOutput, error) {
	info := h.service.Info()

	out := &ConfigOutput{Body: ConfigResponseDTO{
		Voices:         info.Voices,
		FlashSREnabled: info.UpsamplerEnabled,
		SampleRate:     info.SampleRate,
	}}
	if out.Body.Voices == nil {
		out.Body.Voices = []string{}
	}
	if info.DefaultVoice != "" {
		out.Body.DefaultVoice = &info.DefaultVoice
	}

	return out, nil
}

func (h *SystemHandler) handleRoot(_ context.Context, _ *struct{}) (*RootOutput, error) {
	return &RootOutput{Body: RootResponseDTO{
		Message: "MeloTTS OpenAI-compatible speech API",
		Docs:    "/docs",
	}}, nil
}

func (h *SystemHandler) handleHealth(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	return &HealthOutput{Body: HealthResponseDTO{Status: "ok"}}, nil
}

func (h *SystemHandler) handleReady(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	var reports []model.LoadReport
	if h.reports != nil {
		reports = h.reports.Reports()
	}

	if !h.service.Ready() {
		return nil, huma.Error503ServiceUnavailable("Default language model is not loaded", reportErrors(reports)...)
	}

	return &HealthOutput{Body: HealthResponseDTO{Status: "ready", Models: reports}}, nil
}

// exactPath rejects requests that reached the operation through a subtree
// match of the mux pattern.
func exactPath(api huma.API, path string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if ctx.URL().Path != path {
			_ = huma.WriteErr(api, ctx, http.StatusNotFound, "Not Found")
			return
		}
		next(ctx)
	}
}

func reportErrors(reports []model.LoadReport) []error {
	var errs []error
	for _, r := range reports {
		if r.Status == model.ModelStatusFailed {
			errs = append(errs, &huma.ErrorDetail{
				Message:  r.Error,
				Location: "models." + r.Language,
				Value:    r.Status,
			})
		}
	}
	return errs
}
