package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwhitford/cabinet/internal/config"
	"github.com/mwhitford/cabinet/internal/extract"
	"github.com/mwhitford/cabinet/internal/fields"
	"github.com/mwhitford/cabinet/internal/home"
	"github.com/mwhitford/cabinet/internal/intake"
	"github.com/mwhitford/cabinet/internal/store"
)

// stubExtractClient is a canned extraction service for server tests.
type stubExtractClient struct{}

func (c *stubExtractClient) Scan(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
	return &extract.ScanResult{
		DocumentType: "Statement",
		Enhanced: &extract.EnhancedData{
			DocumentTitle: "Bank Statement",
			Fields: map[string]fields.Field{
				"accountNumber": {Name: "accountNumber", Value: "0042", Confidence: 0.9, Type: fields.TypeText},
			},
		},
	}, nil
}

func (c *stubExtractClient) RecognizeAndExtract(ctx context.Context, file extract.File) (*extract.ScanResult, error) {
	return &extract.ScanResult{
		DocumentType:    "Receipt",
		SuggestedDomain: "finance",
		Enhanced: &extract.EnhancedData{
			DocumentTitle: "Grocery Receipt",
			Fields: map[string]fields.Field{
				"total": {Name: "total", Value: 23.18, Confidence: 0.88, Type: fields.TypeCurrency},
			},
		},
	}, nil
}

func (c *stubExtractClient) Upload(ctx context.Context, file extract.File, meta extract.UploadMetadata) (*extract.UploadResult, error) {
	return &extract.UploadResult{ID: "remote-1", StorageRef: "blob://remote-1"}, nil
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	homePath := t.TempDir()
	dir, err := home.New(homePath)
	if err != nil {
		t.Fatalf("home.New: %v", err)
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}

	cfgPath := filepath.Join(homePath, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  host: 127.0.0.1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}

	srv, err := New(Config{
		Host:          "127.0.0.1",
		Port:          "18971",
		Home:          dir,
		ConfigManager: mgr,
		ExtractClient: &stubExtractClient{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, "http://127.0.0.1:18971"
}

func waitForServer(baseURL string, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("server at %s never became healthy", baseURL)
}

func uploadPNG(t *testing.T, baseURL, name string) intake.Session {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("png-bytes"))
	mw.WriteField("contentType", "image/png")
	mw.Close()

	resp, err := http.Post(baseURL+"/api/intake/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	var sess intake.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

func TestServer_FullLifecycle(t *testing.T) {
	srv, baseURL := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()
	if err := waitForServer(baseURL, 5*time.Second); err != nil {
		cancel()
		t.Fatalf("server did not start: %v", err)
	}

	var recordID string

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/status")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			Server string `json:"server"`
			Store  struct {
				Health string `json:"health"`
			} `json:"store"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if body.Server != "running" {
			t.Errorf("server = %q, want running", body.Server)
		}
		if body.Store.Health != "healthy" {
			t.Errorf("store health = %q, want healthy", body.Store.Health)
		}
	})

	t.Run("intake_fast_path", func(t *testing.T) {
		sess := uploadPNG(t, baseURL, "receipt.png")
		if sess.ID == "" {
			t.Fatal("session id missing")
		}

		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) && sess.Stage != intake.StageComplete {
			resp, err := http.Get(baseURL + "/api/intake/" + sess.ID)
			if err != nil {
				t.Fatalf("poll: %v", err)
			}
			if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
				resp.Body.Close()
				t.Fatalf("decode poll: %v", err)
			}
			resp.Body.Close()
			if sess.Stage == intake.StageError {
				t.Fatalf("intake failed: %s", sess.Error)
			}
			time.Sleep(10 * time.Millisecond)
		}
		if sess.Stage != intake.StageComplete {
			t.Fatalf("stage = %s, want complete", sess.Stage)
		}
		if sess.RecordID == "" {
			t.Fatal("record id missing on completed session")
		}
		recordID = sess.RecordID
	})

	t.Run("records_crud", func(t *testing.T) {
		if recordID == "" {
			t.Skip("no record from intake")
		}

		resp, err := http.Get(baseURL + "/api/records")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var list struct {
			Count   int             `json:"count"`
			Records []*store.Record `json:"records"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			resp.Body.Close()
			t.Fatalf("decode list: %v", err)
		}
		resp.Body.Close()
		if list.Count != 1 {
			t.Fatalf("count = %d, want 1", list.Count)
		}

		resp, err = http.Get(baseURL + "/api/records/" + recordID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		var rec store.Record
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			resp.Body.Close()
			t.Fatalf("decode record: %v", err)
		}
		resp.Body.Close()
		if rec.Title != "Grocery Receipt" {
			t.Errorf("title = %q", rec.Title)
		}
		if rec.Domain != "finance" {
			t.Errorf("domain = %q", rec.Domain)
		}

		req, _ := http.NewRequest(http.MethodDelete, baseURL+"/api/records/"+recordID, nil)
		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("delete status = %d, want %d", resp.StatusCode, http.StatusNoContent)
		}

		resp, err = http.Get(baseURL + "/api/records/" + recordID)
		if err != nil {
			t.Fatalf("get after delete: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("get after delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("settings_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/settings")
		if err != nil {
			t.Fatalf("settings: %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			ConfidenceHigh float64 `json:"confidenceHigh"`
			ConfidenceLow  float64 `json:"confidenceLow"`
			MaxUploadBytes int64   `json:"maxUploadBytes"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode settings: %v", err)
		}
		if body.ConfidenceHigh != 0.8 || body.ConfidenceLow != 0.5 {
			t.Errorf("thresholds = %v/%v, want 0.8/0.5", body.ConfidenceHigh, body.ConfidenceLow)
		}
		if body.MaxUploadBytes != 10<<20 {
			t.Errorf("maxUploadBytes = %d", body.MaxUploadBytes)
		}
	})

	t.Run("unknown_session_404", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/intake/no-such-session")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("invalid_upload_400", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, _ := mw.CreateFormFile("file", "notes.txt")
		part.Write([]byte("plain text"))
		mw.Close()

		resp, err := http.Post(baseURL+"/api/intake/upload", mw.FormDataContentType(), &buf)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	cancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server did not shut down")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestServer_RequireInitBeforeStart(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d before init", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestServer_HealthWorksBeforeInit(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
