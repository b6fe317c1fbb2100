package intake

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mwhitford/cabinet/internal/extract"
	"github.com/mwhitford/cabinet/internal/fields"
	"github.com/mwhitford/cabinet/internal/store"
)

type fakeClient struct {
	mu             sync.Mutex
	scanCalls      int
	recognizeCalls int
	uploads        []extract.UploadMetadata

	scanFn      func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error)
	recognizeFn func(ctx context.Context, file extract.File) (*extract.ScanResult, error)
	uploadFn    func(ctx context.Context, file extract.File, meta extract.UploadMetadata) (*extract.UploadResult, error)
}

func (c *fakeClient) Scan(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
	c.mu.Lock()
	c.scanCalls++
	fn := c.scanFn
	c.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected Scan call")
	}
	return fn(ctx, file, enhanced)
}

func (c *fakeClient) RecognizeAndExtract(ctx context.Context, file extract.File) (*extract.ScanResult, error) {
	c.mu.Lock()
	c.recognizeCalls++
	fn := c.recognizeFn
	c.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected RecognizeAndExtract call")
	}
	return fn(ctx, file)
}

func (c *fakeClient) Upload(ctx context.Context, file extract.File, meta extract.UploadMetadata) (*extract.UploadResult, error) {
	c.mu.Lock()
	c.uploads = append(c.uploads, meta)
	fn := c.uploadFn
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, file, meta)
	}
	return &extract.UploadResult{ID: "file-1", StorageRef: "blob://file-1"}, nil
}

func (c *fakeClient) counts() (scans, recognizes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanCalls, c.recognizeCalls
}

func (c *fakeClient) uploadMetas() []extract.UploadMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]extract.UploadMetadata(nil), c.uploads...)
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []*store.Record
	err   error
}

func (s *fakeSaver) SaveRecord(ctx context.Context, rec *store.Record) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("rec-%d", len(s.saved)+1)
	}
	s.saved = append(s.saved, rec)
	return rec, nil
}

func (s *fakeSaver) records() []*store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.Record(nil), s.saved...)
}

func newTestOrchestrator(t *testing.T, client extract.Client, saver RecordSaver) *Orchestrator {
	t.Helper()
	return New(Config{
		Client: client,
		Saver:  saver,
		Now:    func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
}

// minimalPDF builds a one-page PDF with a correct cross-reference table.
func minimalPDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make(map[int]int)
	writeObj := func(n int, body string) {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, body)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	xref := buf.Len()
	buf.WriteString("xref\n0 4\n0000000000 65535 f \n")
	for n := 1; n <= 3; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

func pdfFile(name string) extract.File {
	return extract.File{Name: name, ContentType: "application/pdf", Data: minimalPDF()}
}

func imageFile(name string) extract.File {
	return extract.File{Name: name, ContentType: "image/png", Data: []byte("not-a-real-png")}
}

func waitStage(t *testing.T, o *Orchestrator, id string, want Stage) Session {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last Session
	for time.Now().Before(deadline) {
		sess, ok := o.Session(id)
		if ok {
			last = sess
			if sess.Stage == want {
				return sess
			}
			if sess.Stage == StageError && want != StageError {
				t.Fatalf("session failed: kind=%s error=%q (waiting for %s)", sess.ErrorKind, sess.Error, want)
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached stage %s; last: stage=%s progress=%d", want, last.Stage, last.Progress)
	return Session{}
}

func TestFastPathImageCompletesWithoutReview(t *testing.T) {
	client := &fakeClient{
		recognizeFn: func(ctx context.Context, file extract.File) (*extract.ScanResult, error) {
			return &extract.ScanResult{
				DocumentType:    "ID Card",
				SuggestedDomain: "personal",
				Enhanced: &extract.EnhancedData{
					DocumentTitle: "Library Card",
					Fields: map[string]fields.Field{
						"cardNumber": {Name: "cardNumber", Label: "Card Number", Value: "LC-4417", Confidence: 0.93, Type: fields.TypeText},
					},
				},
			}, nil
		},
	}
	saver := &fakeSaver{}
	o := newTestOrchestrator(t, client, saver)

	sess, err := o.Start(imageFile("card.png"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitStage(t, o, sess.ID, StageComplete)
	if final.Progress != 100 {
		t.Errorf("progress = %d, want 100", final.Progress)
	}
	if final.RecordID == "" || final.StorageRef == "" {
		t.Errorf("missing persistence refs: record=%q storage=%q", final.RecordID, final.StorageRef)
	}
	if final.DocumentType != "ID Card" {
		t.Errorf("documentType = %q", final.DocumentType)
	}

	scans, recognizes := client.counts()
	if scans != 0 || recognizes != 1 {
		t.Errorf("calls: scans=%d recognizes=%d, want 0/1", scans, recognizes)
	}

	recs := saver.records()
	if len(recs) != 1 {
		t.Fatalf("saved %d records, want 1", len(recs))
	}
	if recs[0].Title != "Library Card" {
		t.Errorf("title = %q", recs[0].Title)
	}
	if recs[0].Domain != "personal" {
		t.Errorf("domain = %q", recs[0].Domain)
	}
	if len(recs[0].Fields) != 1 || recs[0].Fields[0].Name != "cardNumber" {
		t.Errorf("fields = %+v", recs[0].Fields)
	}
}

func TestStagedPathReviewEditAndSave(t *testing.T) {
	client := &fakeClient{
		scanFn: func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
			if !enhanced {
				t.Error("staged scan should request enhanced extraction")
			}
			return &extract.ScanResult{
				DocumentType:    "Insurance Policy",
				SuggestedDomain: "insurance",
				Enhanced: &extract.EnhancedData{
					DocumentTitle: "Auto Policy",
					Summary:       "Coverage summary for the vehicle policy.",
					Fields: map[string]fields.Field{
						"expirationDate": {Name: "expirationDate", Value: "2030-01-01", Confidence: 0.9, Type: fields.TypeDate},
						"premium":        {Name: "premium", Value: 128.0, Confidence: 0.6, Type: fields.TypeCurrency},
					},
				},
			}, nil
		},
	}
	saver := &fakeSaver{}
	o := newTestOrchestrator(t, client, saver)

	sess, err := o.Start(pdfFile("policy.pdf"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	review := waitStage(t, o, sess.ID, StageReview)
	if review.Progress != 90 {
		t.Errorf("review progress = %d, want 90", review.Progress)
	}
	if review.Extracted == nil || len(review.Extracted.Fields) != 2 {
		t.Fatalf("extracted = %+v", review.Extracted)
	}

	if err := o.SetField(sess.ID, "premium", 142.5); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	merged, err := o.ConfirmPreview(sess.ID)
	if err != nil {
		t.Fatalf("ConfirmPreview: %v", err)
	}
	if merged["premium"] != 142.5 {
		t.Errorf("merged premium = %v, want 142.5", merged["premium"])
	}
	if merged["expirationDate"] != "2030-01-01" {
		t.Errorf("merged expirationDate = %v", merged["expirationDate"])
	}

	final, err := o.Save(sess.ID)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if final.Stage != StageComplete {
		t.Fatalf("stage after save = %s", final.Stage)
	}

	recs := saver.records()
	if len(recs) != 1 {
		t.Fatalf("saved %d records, want 1", len(recs))
	}
	if recs[0].ExpirationDate != "2030-01-01" {
		t.Errorf("record expirationDate = %q", recs[0].ExpirationDate)
	}
	var premium any
	for _, f := range recs[0].Fields {
		if f.Name == "premium" {
			premium = f.Value
		}
	}
	if premium != 142.5 {
		t.Errorf("persisted premium = %v, want the edited value", premium)
	}

	metas := client.uploadMetas()
	if len(metas) != 1 || metas[0].DocumentType != "Insurance Policy" {
		t.Errorf("upload metadata = %+v", metas)
	}
}

func TestStartRejectsInvalidFiles(t *testing.T) {
	client := &fakeClient{}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	cases := []struct {
		name string
		file extract.File
	}{
		{"unsupported type", extract.File{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hi")}},
		{"empty file", extract.File{Name: "card.png", ContentType: "image/png"}},
		{"oversize", extract.File{Name: "card.png", ContentType: "image/png", Data: make([]byte, 11<<20)}},
		{"corrupt pdf", extract.File{Name: "doc.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 garbage")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Start(tc.file)
			if !extract.IsValidation(err) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}

	scans, recognizes := client.counts()
	if scans != 0 || recognizes != 0 {
		t.Errorf("rejected files must not reach the client: scans=%d recognizes=%d", scans, recognizes)
	}
}

func TestSkipDuringScanStoresRawFile(t *testing.T) {
	scanStarted := make(chan struct{})
	client := &fakeClient{
		scanFn: func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
			close(scanStarted)
			<-ctx.Done()
			return nil, &extract.AbortedError{Op: "scan"}
		},
	}
	saver := &fakeSaver{}
	o := newTestOrchestrator(t, client, saver)

	sess, err := o.Start(pdfFile("statement.pdf"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-scanStarted

	if err := o.Skip(sess.ID); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	final := waitStage(t, o, sess.ID, StageComplete)
	if final.Error != "" {
		t.Errorf("skip must not surface an error, got %q", final.Error)
	}
	if final.Extracted != nil {
		t.Error("partial extraction must be discarded on skip")
	}

	recs := saver.records()
	if len(recs) != 1 {
		t.Fatalf("saved %d records, want 1", len(recs))
	}
	if recs[0].DocumentType != DefaultDocumentType {
		t.Errorf("documentType = %q, want %q", recs[0].DocumentType, DefaultDocumentType)
	}
	if recs[0].Title != "statement" {
		t.Errorf("title = %q, want filename-derived", recs[0].Title)
	}

	metas := client.uploadMetas()
	if len(metas) != 1 || metas[0].DocumentType != DefaultDocumentType {
		t.Errorf("upload metadata = %+v", metas)
	}
}

func TestSkipRacingScanFailureStoresRawFile(t *testing.T) {
	// Skip lands between the scan deciding to fail and the failure being
	// applied. The accepted skip must still win: raw file stored, no
	// Error stage.
	idCh := make(chan string, 1)
	var o *Orchestrator
	client := &fakeClient{}
	client.scanFn = func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
		if err := o.Skip(<-idCh); err != nil {
			return nil, fmt.Errorf("skip: %v", err)
		}
		return nil, &extract.TimeoutError{Op: "scan", Limit: time.Second}
	}
	saver := &fakeSaver{}
	o = newTestOrchestrator(t, client, saver)

	sess, err := o.Start(pdfFile("lease.pdf"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	idCh <- sess.ID

	final := waitStage(t, o, sess.ID, StageComplete)
	if final.Error != "" {
		t.Errorf("accepted skip must not surface an error, got %q", final.Error)
	}

	recs := saver.records()
	if len(recs) != 1 {
		t.Fatalf("saved %d records, want 1", len(recs))
	}
	if recs[0].DocumentType != DefaultDocumentType {
		t.Errorf("documentType = %q, want %q", recs[0].DocumentType, DefaultDocumentType)
	}
}

func TestSkipOnlyWhileScanning(t *testing.T) {
	client := &fakeClient{
		recognizeFn: func(ctx context.Context, file extract.File) (*extract.ScanResult, error) {
			return &extract.ScanResult{DocumentType: "Receipt"}, nil
		},
	}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	sess, err := o.Start(imageFile("receipt.png"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Skip(sess.ID); err == nil {
		t.Error("skip on the image fast path must be rejected")
	}
	waitStage(t, o, sess.ID, StageComplete)
	if err := o.Skip(sess.ID); err == nil {
		t.Error("skip on a terminal session must be rejected")
	}
}

func TestScanTimeoutMarksSession(t *testing.T) {
	client := &fakeClient{
		scanFn: func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
			return nil, &extract.TimeoutError{Op: "scan", Limit: 120 * time.Second}
		},
	}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	sess, err := o.Start(pdfFile("big.pdf"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitStage(t, o, sess.ID, StageError)
	if final.ErrorKind != ErrorKindTimeout {
		t.Errorf("errorKind = %s, want timeout", final.ErrorKind)
	}
	if final.Error == "" {
		t.Error("timeout must carry a user-facing message")
	}
}

func TestRemoteErrorCarriesSuggestion(t *testing.T) {
	client := &fakeClient{
		scanFn: func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
			return nil, &extract.RemoteError{StatusCode: 422, Message: "unreadable scan", Suggestion: "rescan at a higher resolution"}
		},
	}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	sess, _ := o.Start(pdfFile("blurry.pdf"))
	final := waitStage(t, o, sess.ID, StageError)
	if final.ErrorKind != ErrorKindRemote {
		t.Errorf("errorKind = %s, want remote", final.ErrorKind)
	}
	if want := "unreadable scan (rescan at a higher resolution)"; final.Error != want {
		t.Errorf("error = %q, want %q", final.Error, want)
	}
}

func TestNewSessionSupersedesActiveOne(t *testing.T) {
	release := make(chan struct{})
	firstScan := make(chan struct{})
	client := &fakeClient{
		scanFn: func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
			close(firstScan)
			<-release
			return &extract.ScanResult{DocumentType: "Late Result"}, nil
		},
		recognizeFn: func(ctx context.Context, file extract.File) (*extract.ScanResult, error) {
			return &extract.ScanResult{DocumentType: "Receipt"}, nil
		},
	}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	first, err := o.Start(pdfFile("slow.pdf"))
	if err != nil {
		t.Fatalf("Start first: %v", err)
	}
	<-firstScan

	second, err := o.Start(imageFile("quick.png"))
	if err != nil {
		t.Fatalf("Start second: %v", err)
	}
	waitStage(t, o, second.ID, StageComplete)

	close(release)
	time.Sleep(50 * time.Millisecond)

	stale, ok := o.Session(first.ID)
	if !ok {
		t.Fatal("superseded session should still be inspectable")
	}
	if stale.Stage != StageScanning {
		t.Errorf("late result applied to superseded session: stage = %s", stale.Stage)
	}
	if stale.DocumentType == "Late Result" {
		t.Error("late scan result leaked into superseded session")
	}
}

func TestExpirationDateBackfilledFromSummary(t *testing.T) {
	client := &fakeClient{
		scanFn: func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
			return &extract.ScanResult{
				DocumentType: "Membership",
				Enhanced: &extract.EnhancedData{
					Summary: "Annual membership terms. Expiration date: 12/31/2030.",
					Fields: map[string]fields.Field{
						"memberName": {Name: "memberName", Value: "R. Alvarez", Confidence: 0.85, Type: fields.TypeText},
					},
				},
			}, nil
		},
	}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	sess, _ := o.Start(pdfFile("membership.pdf"))
	review := waitStage(t, o, sess.ID, StageReview)

	f, ok := review.Extracted.Fields["expirationDate"]
	if !ok {
		t.Fatal("expirationDate not backfilled from summary text")
	}
	if f.Value != "2030-12-31" {
		t.Errorf("backfilled date = %v, want 2030-12-31", f.Value)
	}
	if f.Confidence >= 0.8 {
		t.Errorf("backfilled confidence = %v, must stay below the high bucket", f.Confidence)
	}
}

func TestSetFieldOnlyDuringReview(t *testing.T) {
	client := &fakeClient{
		recognizeFn: func(ctx context.Context, file extract.File) (*extract.ScanResult, error) {
			return &extract.ScanResult{DocumentType: "Receipt"}, nil
		},
	}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	sess, _ := o.Start(imageFile("receipt.png"))
	waitStage(t, o, sess.ID, StageComplete)

	if err := o.SetField(sess.ID, "total", 9.99); err == nil {
		t.Error("SetField outside review must be rejected")
	}
	if err := o.SetField("no-such-session", "total", 9.99); err != ErrUnknownSession {
		t.Errorf("err = %v, want ErrUnknownSession", err)
	}
}

func TestResetDestroysSession(t *testing.T) {
	started := make(chan struct{})
	client := &fakeClient{
		scanFn: func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
			close(started)
			<-ctx.Done()
			return nil, &extract.AbortedError{Op: "scan"}
		},
	}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	sess, _ := o.Start(pdfFile("doc.pdf"))
	<-started
	o.Reset(sess.ID)

	if _, ok := o.Session(sess.ID); ok {
		t.Error("reset session must be gone")
	}
	if _, err := o.Save(sess.ID); err != ErrUnknownSession {
		t.Errorf("Save after reset: err = %v, want ErrUnknownSession", err)
	}
}

func TestReviewPayloadBucketsAndGroups(t *testing.T) {
	client := &fakeClient{
		scanFn: func(ctx context.Context, file extract.File, enhanced bool) (*extract.ScanResult, error) {
			return &extract.ScanResult{
				DocumentType: "Invoice",
				Enhanced: &extract.EnhancedData{
					DocumentTitle: "March Invoice",
					Fields: map[string]fields.Field{
						"dueDate":      {Name: "dueDate", Value: "2030-03-15", Confidence: 0.95, Type: fields.TypeDate},
						"totalAmount":  {Name: "totalAmount", Value: 1250.0, Confidence: 0.65, Type: fields.TypeCurrency},
						"contactEmail": {Name: "contactEmail", Value: "billing@acme.test", Confidence: 0.3, Type: fields.TypeEmail},
					},
				},
			}, nil
		},
	}
	o := newTestOrchestrator(t, client, &fakeSaver{})

	sess, _ := o.Start(pdfFile("invoice.pdf"))
	waitStage(t, o, sess.ID, StageReview)

	if err := o.SetField(sess.ID, "totalAmount", 1300.0); err != nil {
		t.Fatalf("SetField: %v", err)
	}

	data, err := o.Review(sess.ID)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if data.HighCount != 1 || data.MediumCount != 1 || data.LowCount != 1 {
		t.Errorf("bucket counts = %d/%d/%d, want 1/1/1", data.HighCount, data.MediumCount, data.LowCount)
	}
	if data.DocumentTitle != "March Invoice" {
		t.Errorf("documentTitle = %q", data.DocumentTitle)
	}

	byName := map[string]ReviewField{}
	var categories []string
	for _, g := range data.Groups {
		categories = append(categories, g.Category)
		for _, f := range g.Fields {
			byName[f.Name] = f
		}
	}
	if len(byName) != 3 {
		t.Fatalf("grouped %d fields, want 3: %v", len(byName), categories)
	}

	total := byName["totalAmount"]
	if !total.Edited || total.Value != 1300.0 {
		t.Errorf("edited field = %+v, want edited value 1300", total)
	}
	if total.Display != "$1,300.00" {
		t.Errorf("display = %q, want $1,300.00", total.Display)
	}
	if byName["dueDate"].Bucket != "high" || byName["contactEmail"].Bucket != "low" {
		t.Errorf("buckets: due=%s email=%s", byName["dueDate"].Bucket, byName["contactEmail"].Bucket)
	}
	if categories[0] != fields.CategoryDates {
		t.Errorf("first group = %q, want Dates first", categories[0])
	}
}
