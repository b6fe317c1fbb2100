package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// SettingsResponse is the effective intake policy, after config file and
// environment overrides.
type SettingsResponse struct {
	ScanTimeoutSeconds      int     `json:"scanTimeoutSeconds"`
	RecognizeTimeoutSeconds int     `json:"recognizeTimeoutSeconds"`
	UploadTimeoutSeconds    int     `json:"uploadTimeoutSeconds"`
	UploadRetries           uint    `json:"uploadRetries"`
	MaxUploadBytes          int64   `json:"maxUploadBytes"`
	ConfidenceHigh          float64 `json:"confidenceHigh"`
	ConfidenceLow           float64 `json:"confidenceLow"`
}

// SettingsEndpoint handles GET /api/settings.
type SettingsEndpoint struct{}

var _ api.Endpoint = (*SettingsEndpoint)(nil)

func (e *SettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *SettingsEndpoint) RequiresInit() bool { return false }

func (e *SettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.ConfigMgrFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "config manager not initialized")
		return
	}

	cfg := mgr.Get()
	writeJSON(w, http.StatusOK, SettingsResponse{
		ScanTimeoutSeconds:      cfg.Extraction.ScanTimeoutSeconds,
		RecognizeTimeoutSeconds: cfg.Extraction.RecognizeTimeoutSeconds,
		UploadTimeoutSeconds:    cfg.Extraction.UploadTimeoutSeconds,
		UploadRetries:           cfg.Extraction.UploadRetries,
		MaxUploadBytes:          cfg.Intake.MaxUploadBytes,
		ConfidenceHigh:          cfg.Intake.Confidence.High,
		ConfidenceLow:           cfg.Intake.Confidence.Low,
	})
}

func (e *SettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show effective intake settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SettingsResponse
			if err := client.Get(cmd.Context(), "/api/settings", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
