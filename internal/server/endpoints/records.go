package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/store"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// ListRecordsEndpoint handles GET /api/records with an optional ?domain=
// filter.
type ListRecordsEndpoint struct{}

var _ api.Endpoint = (*ListRecordsEndpoint)(nil)

func (e *ListRecordsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/records", e.handler
}

func (e *ListRecordsEndpoint) RequiresInit() bool { return true }

func (e *ListRecordsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "record store not initialized")
		return
	}

	recs, err := st.ListRecords(r.Context(), r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

func (e *ListRecordsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved records",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/records"
			if domain != "" {
				path += "?domain=" + domain
			}
			var resp map[string]any
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "filter by life domain")
	return cmd
}

// GetRecordEndpoint handles GET /api/records/{id}.
type GetRecordEndpoint struct{}

var _ api.Endpoint = (*GetRecordEndpoint)(nil)

func (e *GetRecordEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/records/{id}", e.handler
}

func (e *GetRecordEndpoint) RequiresInit() bool { return true }

func (e *GetRecordEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "record id is required")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "record store not initialized")
		return
	}

	rec, err := st.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (e *GetRecordEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a record by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var rec store.Record
			if err := client.Get(cmd.Context(), "/api/records/"+args[0], &rec); err != nil {
				return err
			}
			return api.Output(rec)
		},
	}
}

// DeleteRecordEndpoint handles DELETE /api/records/{id}.
type DeleteRecordEndpoint struct{}

var _ api.Endpoint = (*DeleteRecordEndpoint)(nil)

func (e *DeleteRecordEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/records/{id}", e.handler
}

func (e *DeleteRecordEndpoint) RequiresInit() bool { return true }

func (e *DeleteRecordEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "record id is required")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "record store not initialized")
		return
	}

	if err := st.DeleteRecord(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteRecordEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/records/"+args[0]); err != nil {
				return err
			}
			fmt.Println("Record deleted")
			return nil
		},
	}
}
