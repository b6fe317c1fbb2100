package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/intake"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// IntakeSaveEndpoint handles POST /api/intake/{id}/save. Saving merges
// edits over the extracted values, uploads the raw file, and persists the
// record.
type IntakeSaveEndpoint struct{}

var _ api.Endpoint = (*IntakeSaveEndpoint)(nil)

func (e *IntakeSaveEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/intake/{id}/save", e.handler
}

func (e *IntakeSaveEndpoint) RequiresInit() bool { return true }

func (e *IntakeSaveEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	sess, err := orch.Save(id)
	if err != nil {
		if sessionNotFound(err) {
			writeError(w, http.StatusNotFound, "intake session not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *IntakeSaveEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "save <id>",
		Short: "Persist the reviewed record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var sess intake.Session
			if err := client.Post(cmd.Context(), "/api/intake/"+args[0]+"/save", nil, &sess); err != nil {
				return err
			}
			return api.Output(sess)
		},
	}
}
