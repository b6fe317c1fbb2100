package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/extract"
	"github.com/mwhitford/cabinet/internal/intake"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// UploadIntakeEndpoint handles POST /api/intake/upload with a multipart
// file upload. A valid file starts a new intake session; starting one
// supersedes any session still in flight.
type UploadIntakeEndpoint struct{}

var _ api.Endpoint = (*UploadIntakeEndpoint)(nil)

func (e *UploadIntakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/intake/upload", e.handler
}

func (e *UploadIntakeEndpoint) RequiresInit() bool { return true }

func (e *UploadIntakeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 32 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return
	}

	contentType := r.FormValue("contentType")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}

	orch := svcctx.IntakeFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "intake pipeline not initialized")
		return
	}

	sess, err := orch.Start(extract.File{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		if extract.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, sess)
}

func (e *UploadIntakeEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document and start intake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			client := api.NewClient(getServerURL())
			var sess intake.Session
			err = client.PostFile(cmd.Context(), "/api/intake/upload", filepath.Base(args[0]), "", data, &sess)
			if err != nil {
				return err
			}
			return api.Output(sess)
		},
	}
}

// sessionNotFound reports whether err means the session does not exist.
func sessionNotFound(err error) bool {
	return errors.Is(err, intake.ErrUnknownSession)
}
