// Package extract is the boundary adapter for the remote recognition,
// classification, and upload services. The services are opaque HTTP
// collaborators; this package enforces timeouts and cancellation locally,
// independent of whatever limits the remote side applies, and converts
// every failure into the intake error taxonomy.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// Client is the interface the orchestrator depends on. All calls support
// cooperative cancellation through the caller's context: cancelling it makes
// the in-flight operation fail fast with an AbortedError.
type Client interface {
	// Scan runs the staged-path recognition call. With enhanced set, the
	// remote side also returns structured field extraction.
	Scan(ctx context.Context, file File, enhanced bool) (*ScanResult, error)

	// RecognizeAndExtract runs the fast path's single combined call.
	RecognizeAndExtract(ctx context.Context, file File) (*ScanResult, error)

	// Upload stores the raw file plus metadata on the remote side.
	Upload(ctx context.Context, file File, meta UploadMetadata) (*UploadResult, error)
}

// Config holds the HTTP client settings. Timeouts are enforced per call via
// context deadlines so that expiry is distinguishable from cancellation.
type Config struct {
	BaseURL string

	// ScanTimeout bounds the staged-path scan call. Full-document
	// recognition is slow, so this is the long one.
	ScanTimeout time.Duration

	// RecognizeTimeout bounds the fast path's combined call.
	RecognizeTimeout time.Duration

	// UploadTimeout bounds the plain upload call.
	UploadTimeout time.Duration

	// UploadRetries is the attempt count for the idempotent upload call.
	UploadRetries uint

	Logger *slog.Logger
}

// HTTPClient implements Client against the remote service's REST surface.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the extraction service at cfg.BaseURL.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = 120 * time.Second
	}
	if cfg.RecognizeTimeout == 0 {
		cfg.RecognizeTimeout = 45 * time.Second
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 60 * time.Second
	}
	if cfg.UploadRetries == 0 {
		cfg.UploadRetries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		cfg:    cfg,
		logger: logger,
		// No client-level timeout: deadlines are per-call contexts so we
		// can tell expiry apart from caller cancellation.
		http: &http.Client{},
	}
}

// scanWire is the staged-path response body.
type scanWire struct {
	DocumentType    string        `json:"documentType"`
	SuggestedDomain string        `json:"suggestedDomain"`
	EnhancedData    *EnhancedData `json:"enhancedData"`
	Error           string        `json:"error"`
	Suggestion      string        `json:"suggestion"`
}

// recognizeWire is the fast-path response body.
type recognizeWire struct {
	Document *struct {
		DocumentType    string        `json:"documentType"`
		SuggestedDomain string        `json:"suggestedDomain"`
		EnhancedData    *EnhancedData `json:"enhancedData"`
	} `json:"document"`
	Summary string `json:"summary"`
	Error   string `json:"error"`
}

// uploadWire is the upload response body.
type uploadWire struct {
	ID         string `json:"id"`
	StorageRef string `json:"storageRef"`
	Error      string `json:"error"`
	Suggestion string `json:"suggestion"`
}

// Scan posts the file to /scan and returns the normalized result.
func (c *HTTPClient) Scan(ctx context.Context, file File, enhanced bool) (*ScanResult, error) {
	form := map[string]string{}
	if enhanced {
		form["enhanced"] = "true"
	}

	body, err := c.postFile(ctx, "scan", "/scan", file, form, nil, c.cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}

	if err := validateScanBody(body); err != nil {
		return nil, &ParseError{Op: "scan", Err: err}
	}

	var wire scanWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ParseError{Op: "scan", Err: err}
	}
	if wire.Error != "" {
		return nil, &RemoteError{StatusCode: http.StatusOK, Message: wire.Error, Suggestion: wire.Suggestion}
	}

	return &ScanResult{
		DocumentType:    wire.DocumentType,
		SuggestedDomain: wire.SuggestedDomain,
		Enhanced:        wire.EnhancedData,
	}, nil
}

// RecognizeAndExtract posts the file to /recognize-and-extract and folds the
// combined response into the same shape as Scan.
func (c *HTTPClient) RecognizeAndExtract(ctx context.Context, file File) (*ScanResult, error) {
	body, err := c.postFile(ctx, "recognition", "/recognize-and-extract", file, nil, nil, c.cfg.RecognizeTimeout)
	if err != nil {
		return nil, err
	}

	var wire recognizeWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ParseError{Op: "recognition", Err: err}
	}
	if wire.Error != "" {
		return nil, &RemoteError{StatusCode: http.StatusOK, Message: wire.Error}
	}
	if wire.Document == nil {
		return nil, &ParseError{Op: "recognition", Err: errors.New("response has no document")}
	}

	enhanced := wire.Document.EnhancedData
	if enhanced != nil && enhanced.Summary == "" {
		enhanced.Summary = wire.Summary
	}

	return &ScanResult{
		DocumentType:    wire.Document.DocumentType,
		SuggestedDomain: wire.Document.SuggestedDomain,
		Enhanced:        enhanced,
	}, nil
}

// Upload posts the file and metadata to /upload. The call is idempotent on
// the remote side, so transient failures are retried.
func (c *HTTPClient) Upload(ctx context.Context, file File, meta UploadMetadata) (*UploadResult, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload metadata: %w", err)
	}

	var result *UploadResult
	err = retry.Do(
		func() error {
			body, err := c.postFile(ctx, "upload", "/upload", file, nil, metaJSON, c.cfg.UploadTimeout)
			if err != nil {
				return err
			}

			var wire uploadWire
			if err := json.Unmarshal(body, &wire); err != nil {
				return &ParseError{Op: "upload", Err: err}
			}
			if wire.Error != "" {
				return &RemoteError{StatusCode: http.StatusOK, Message: wire.Error, Suggestion: wire.Suggestion}
			}
			if wire.ID == "" {
				return &ParseError{Op: "upload", Err: errors.New("response has no id")}
			}

			result = &UploadResult{ID: wire.ID, StorageRef: wire.StorageRef}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.UploadRetries),
		retry.Delay(500*time.Millisecond),
		retry.RetryIf(isRetryableUploadErr),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// isRetryableUploadErr allows retries only for transient remote failures.
// Timeouts, aborts, and parse errors surface immediately.
func isRetryableUploadErr(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode == 0 || re.StatusCode >= 500
	}
	return false
}

// postFile sends a multipart request with the file, optional form values,
// and an optional metadata JSON part, bounded by the given timeout.
func (c *HTTPClient) postFile(ctx context.Context, op, path string, file File, form map[string]string, metaJSON []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := fw.Write(file.Data); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	for k, v := range form {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
	}
	if metaJSON != nil {
		if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyTransportErr(ctx, op, timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyTransportErr(ctx, op, timeout, err)
	}

	c.logger.Debug("extraction service call",
		"op", op, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		re := &RemoteError{StatusCode: resp.StatusCode, Message: string(body)}
		var wire struct {
			Error      string `json:"error"`
			Suggestion string `json:"suggestion"`
		}
		if json.Unmarshal(body, &wire) == nil && wire.Error != "" {
			re.Message = wire.Error
			re.Suggestion = wire.Suggestion
		}
		return nil, re
	}

	return body, nil
}

// classifyTransportErr separates local deadline expiry from caller
// cancellation so the orchestrator can react differently to each.
func (c *HTTPClient) classifyTransportErr(ctx context.Context, op string, timeout time.Duration, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &TimeoutError{Op: op, Limit: timeout}
	case errors.Is(ctx.Err(), context.Canceled):
		return &AbortedError{Op: op}
	default:
		return &RemoteError{StatusCode: 0, Message: err.Error()}
	}
}
