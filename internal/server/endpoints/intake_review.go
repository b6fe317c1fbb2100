package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/intake"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// IntakeReviewEndpoint handles GET /api/intake/{id}/review. It serves the
// extracted fields grouped by category with confidence buckets and display
// formatting, current edits applied.
type IntakeReviewEndpoint struct{}

var _ api.Endpoint = (*IntakeReviewEndpoint)(nil)

func (e *IntakeReviewEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/intake/{id}/review", e.handler
}

func (e *IntakeReviewEndpoint) RequiresInit() bool { return true }

func (e *IntakeReviewEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	orch := svcctx.IntakeFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "intake pipeline not initialized")
		return
	}

	data, err := orch.Review(id)
	if err != nil {
		if sessionNotFound(err) {
			writeError(w, http.StatusNotFound, "intake session not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (e *IntakeReviewEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "review <id>",
		Short: "Show extracted fields for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var data intake.ReviewData
			if err := client.Get(cmd.Context(), "/api/intake/"+args[0]+"/review", &data); err != nil {
				return err
			}
			return api.Output(data)
		},
	}
}
