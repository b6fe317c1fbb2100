package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// FieldEditRequest is the body for a review field edit.
type FieldEditRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// IntakeFieldsEndpoint handles PATCH /api/intake/{id}/fields. Edits are
// only accepted while the session is in review.
type IntakeFieldsEndpoint struct{}

var _ api.Endpoint = (*IntakeFieldsEndpoint)(nil)

func (e *IntakeFieldsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/intake/{id}/fields", e.handler
}

func (e *IntakeFieldsEndpoint) RequiresInit() bool { return true }

func (e *IntakeFieldsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	var req FieldEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "field name is required")
		return
	}

	orch := svcctx.IntakeFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "intake pipeline not initialized")
		return
	}

	if err := orch.SetField(id, req.Name, req.Value); err != nil {
		if sessionNotFound(err) {
			writeError(w, http.StatusNotFound, "intake session not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	data, err := orch.Review(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (e *IntakeFieldsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-field <id> <name> <value>",
		Short: "Edit an extracted field during review",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			req := FieldEditRequest{Name: args[1], Value: args[2]}
			var data any
			if err := client.Patch(cmd.Context(), "/api/intake/"+args[0]+"/fields", req, &data); err != nil {
				return err
			}
			return api.Output(data)
		},
	}
}
