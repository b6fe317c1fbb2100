package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/intake"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// IntakeSkipEndpoint handles POST /api/intake/{id}/skip. Skipping aborts
// the in-flight scan and stores the raw file with default metadata.
type IntakeSkipEndpoint struct{}

var _ api.Endpoint = (*IntakeSkipEndpoint)(nil)

func (e *IntakeSkipEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/intake/{id}/skip", e.handler
}

func (e *IntakeSkipEndpoint) RequiresInit() bool { return true }

func (e *IntakeSkipEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	if err := orch.Skip(id); err != nil {
		if sessionNotFound(err) {
			writeError(w, http.StatusNotFound, "intake session not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	sess, _ := orch.Session(id)
	writeJSON(w, http.StatusAccepted, sess)
}

func (e *IntakeSkipEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <id>",
		Short: "Skip extraction and store the raw file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var sess intake.Session
			if err := client.Post(cmd.Context(), "/api/intake/"+args[0]+"/skip", nil, &sess); err != nil {
				return err
			}
			return api.Output(sess)
		},
	}
}
