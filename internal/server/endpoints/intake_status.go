package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/intake"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// IntakeStatusEndpoint handles GET /api/intake/{id}. Clients poll this for
// stage and progress while the pipeline runs.
type IntakeStatusEndpoint struct{}

var _ api.Endpoint = (*IntakeStatusEndpoint)(nil)

func (e *IntakeStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/intake/{id}", e.handler
}

func (e *IntakeStatusEndpoint) RequiresInit() bool { return true }

func (e *IntakeStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	sess, ok := orch.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "intake session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (e *IntakeStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Get intake session status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var sess intake.Session
			if err := client.Get(cmd.Context(), "/api/intake/"+args[0], &sess); err != nil {
				return err
			}
			return api.Output(sess)
		},
	}
}

// IntakeResetEndpoint handles DELETE /api/intake/{id}. Resetting destroys
// the session and cancels any in-flight work; error states recover by
// starting over.
type IntakeResetEndpoint struct{}

var _ api.Endpoint = (*IntakeResetEndpoint)(nil)

func (e *IntakeResetEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/intake/{id}", e.handler
}

func (e *IntakeResetEndpoint) RequiresInit() bool { return true }

func (e *IntakeResetEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	orch.Reset(id)
	w.WriteHeader(http.StatusNoContent)
}

func (e *IntakeResetEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Cancel and discard an intake session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/intake/"+args[0]); err != nil {
				return err
			}
			fmt.Println("Session reset")
			return nil
		},
	}
}
