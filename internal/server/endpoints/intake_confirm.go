package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// ConfirmResponse carries the merged payload the save will persist.
type ConfirmResponse struct {
	SessionID string         `json:"sessionId"`
	Values    map[string]any `json:"values"`
}

// IntakeConfirmEndpoint handles POST /api/intake/{id}/confirm. Confirming
// freezes review and returns the merged field values for a final preview.
type IntakeConfirmEndpoint struct{}

var _ api.Endpoint = (*IntakeConfirmEndpoint)(nil)

func (e *IntakeConfirmEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/intake/{id}/confirm", e.handler
}

func (e *IntakeConfirmEndpoint) RequiresInit() bool { return true }

func (e *IntakeConfirmEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	values, err := orch.ConfirmPreview(id)
	if err != nil {
		if sessionNotFound(err) {
			writeError(w, http.StatusNotFound, "intake session not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ConfirmResponse{SessionID: id, Values: values})
}

func (e *IntakeConfirmEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm review and preview the final values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ConfirmResponse
			if err := client.Post(cmd.Context(), "/api/intake/"+args[0]+"/confirm", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
