package intake

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mwhitford/cabinet/internal/expiry"
	"github.com/mwhitford/cabinet/internal/extract"
	"github.com/mwhitford/cabinet/internal/fields"
	"github.com/mwhitford/cabinet/internal/review"
	"github.com/mwhitford/cabinet/internal/store"
)

// DefaultDocumentType is used when classification is skipped or silent.
const DefaultDocumentType = "Other"

// expiryBackfillConfidence is assigned to a locally extracted expiration
// date; it is a heuristic read, not a service-scored field.
const expiryBackfillConfidence = 0.6

// run drives a session down its path. Image files take the fast path; page
// documents take the staged one.
func (o *Orchestrator) run(st *state) {
	defer close(st.done)
	if isImage(st.session.ContentType) {
		o.runFast(st)
	} else {
		o.runStaged(st)
	}
}

// runFast is the single-call path for images: one combined remote call does
// recognition, classification, and extraction, and the record is persisted
// immediately. Progress advances in fixed increments; the remote call gives
// no byte-level signal.
func (o *Orchestrator) runFast(st *state) {
	o.apply(st, Event{Kind: EventAdvance, Stage: StageScanning, Progress: 20})
	if !o.stageYield(st) {
		return
	}
	o.apply(st, Event{Kind: EventAdvance, Stage: StageScanning, Progress: 40})

	res, err := o.client.RecognizeAndExtract(st.ctx, st.file)
	if err != nil {
		o.fail(st, err)
		return
	}

	docType := res.DocumentType
	if docType == "" {
		docType = DefaultDocumentType
	}
	enhanced := o.withExpiryBackfill(res.Enhanced)

	o.apply(st, Event{
		Kind:            EventExtracted,
		Stage:           StageScanning,
		Progress:        80,
		DocumentType:    docType,
		SuggestedDomain: res.SuggestedDomain,
		Extracted:       enhanced,
	})

	// No review on the fast path: extracted values are the final ones.
	merged := make(map[string]any)
	if enhanced != nil {
		for name, f := range enhanced.Fields {
			merged[name] = f.Value
		}
	}
	o.persist(st.ctx, st, merged, docType, res.SuggestedDomain)
}

// runStaged is the multi-stage path for page documents. Classifying and
// Extracting share the scan round trip but are surfaced as distinct stages
// with a cooperative delay between them.
func (o *Orchestrator) runStaged(st *state) {
	o.apply(st, Event{Kind: EventAdvance, Stage: StageUploading, Progress: 10})
	o.apply(st, Event{Kind: EventAdvance, Stage: StageScanning, Progress: 30})

	res, err := o.client.Scan(st.ctx, st.file, true)

	// A skip requested while the call was in flight wins over whatever the
	// call produced: partial extraction is discarded. fail resolves the
	// same race for the error outcome under the lock.
	if err != nil {
		o.fail(st, err)
		return
	}
	if !o.advanceOutOfScan(st, Event{Kind: EventAdvance, Stage: StageClassifying, Progress: 60}) {
		o.persistSkip(st)
		return
	}
	if !o.stageYield(st) {
		return
	}
	o.apply(st, Event{Kind: EventAdvance, Stage: StageExtracting, Progress: 80})
	if !o.stageYield(st) {
		return
	}

	docType := res.DocumentType
	if docType == "" {
		docType = DefaultDocumentType
	}
	enhanced := o.withExpiryBackfill(res.Enhanced)

	o.mu.Lock()
	if !st.superseded {
		st.review = review.NewController(enhanced)
	}
	o.mu.Unlock()

	o.apply(st, Event{
		Kind:            EventExtracted,
		Stage:           StageReview,
		Progress:        90,
		DocumentType:    docType,
		SuggestedDomain: res.SuggestedDomain,
		Extracted:       enhanced,
	})
}

// advanceOutOfScan leaves the Scanning stage unless a skip was accepted
// first. The check and the transition share one lock acquisition, so Skip
// (which requires Scanning, under the same lock) and the pipeline resolve
// the race in a fixed order: whichever takes the lock first wins.
func (o *Orchestrator) advanceOutOfScan(st *state, e Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st.skip {
		return false
	}
	if !st.superseded {
		e.At = o.now()
		st.session = Apply(st.session, e)
	}
	return true
}

// stageYield pauses between synthetic stages, cooperatively: cancellation
// ends the wait. Returns false when the session should stop driving.
func (o *Orchestrator) stageYield(st *state) bool {
	delay := o.policyNow().StageDelay
	if delay <= 0 {
		return true
	}
	select {
	case <-st.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// persistSkip stores the raw file with minimal default metadata. The
// session's own context was cancelled by the skip, so this uses a fresh
// one.
func (o *Orchestrator) persistSkip(st *state) Session {
	o.logger.Info("skipping extraction, storing raw file", "id", st.session.ID)
	o.apply(st, Event{Kind: EventAdvance, Stage: StageSaving, Progress: 90})
	return o.persist(context.Background(), st, map[string]any{}, DefaultDocumentType, "")
}

// persist uploads the raw file, writes the final record, and completes the
// session. All failure kinds land in the Error stage.
func (o *Orchestrator) persist(ctx context.Context, st *state, merged map[string]any, docType, domain string) Session {
	meta := extract.UploadMetadata{
		DocumentType:   docType,
		Category:       domain,
		ExpirationDate: stringValue(merged["expirationDate"]),
		Fields:         merged,
	}

	up, err := o.client.Upload(ctx, st.file, meta)
	if err != nil {
		return o.fail(st, err)
	}

	rec := o.buildRecord(st, merged, docType, domain, up.StorageRef)
	saved, err := o.saver.SaveRecord(ctx, rec)
	if err != nil {
		return o.fail(st, err)
	}

	o.logger.Info("intake complete", "id", st.session.ID, "record", saved.ID, "type", docType)
	return o.apply(st, Event{Kind: EventComplete, RecordID: saved.ID, StorageRef: up.StorageRef})
}

// buildRecord assembles the persistence payload: merged values joined with
// the extraction metadata (type, confidence) where it exists, and plain
// text fields for keys the user added during review.
func (o *Orchestrator) buildRecord(st *state, merged map[string]any, docType, domain, storageRef string) *store.Record {
	sess := o.snapshot(st)

	rec := &store.Record{
		Title:          deriveTitle(sess),
		DocumentType:   docType,
		Domain:         domain,
		ExpirationDate: stringValue(merged["expirationDate"]),
		StorageRef:     storageRef,
	}
	if sess.Extracted != nil {
		rec.Summary = sess.Extracted.Summary
	}

	known := map[string]bool{}
	if sess.Extracted != nil {
		for name, f := range sess.Extracted.Fields {
			known[name] = true
			value := f.Value
			if v, ok := merged[name]; ok {
				value = v
			}
			rec.Fields = append(rec.Fields, store.RecordField{
				Name:       name,
				Label:      labelFor(f),
				Value:      value,
				Type:       f.Type,
				Confidence: f.Confidence,
			})
		}
	}
	for name, v := range merged {
		if !known[name] {
			rec.Fields = append(rec.Fields, store.RecordField{
				Name:  name,
				Label: fields.HumanizeName(name),
				Value: v,
				Type:  fields.TypeText,
			})
		}
	}
	sort.Slice(rec.Fields, func(i, j int) bool { return rec.Fields[i].Name < rec.Fields[j].Name })

	return rec
}

// withExpiryBackfill folds a locally extracted expiration date into the
// field set when the service produced none. The input is never mutated; a
// backfilled copy replaces it before the data is attached to the session.
func (o *Orchestrator) withExpiryBackfill(data *extract.EnhancedData) *extract.EnhancedData {
	if data == nil || hasExpirationField(data.Fields) {
		return data
	}

	match, ok := expiry.Extract(data.Summary, o.now())
	if !ok {
		return data
	}

	out := *data
	out.Fields = make(map[string]fields.Field, len(data.Fields)+1)
	for k, v := range data.Fields {
		out.Fields[k] = v
	}
	out.Fields["expirationDate"] = fields.Field{
		Name:       "expirationDate",
		Label:      "Expiration Date",
		Value:      match.ISODate,
		Confidence: expiryBackfillConfidence,
		Type:       fields.TypeDate,
	}
	o.logger.Debug("backfilled expiration date", "date", match.ISODate, "raw", match.RawText)
	return &out
}

func hasExpirationField(fs map[string]fields.Field) bool {
	for name, f := range fs {
		if f.Type != fields.TypeDate {
			continue
		}
		lower := strings.ToLower(name)
		if strings.Contains(lower, "expir") || strings.Contains(lower, "valid") {
			return true
		}
	}
	return false
}

// fail classifies an error into the taxonomy and moves the session to the
// Error stage with a message tailored to the kind.
func (o *Orchestrator) fail(st *state, err error) Session {
	var kind ErrorKind
	var msg string

	var pe *extract.ParseError
	var re *extract.RemoteError
	switch {
	case extract.IsTimeout(err):
		kind = ErrorKindTimeout
		msg = err.Error()
	case extract.IsAborted(err):
		kind = ErrorKindAborted
		msg = "processing was cancelled"
	case errors.As(err, &pe):
		kind = ErrorKindParse
		msg = err.Error()
	case errors.As(err, &re):
		kind = ErrorKindRemote
		msg = re.Message
		if re.Suggestion != "" {
			msg += " (" + re.Suggestion + ")"
		}
	default:
		kind = ErrorKindRemote
		msg = err.Error()
	}

	o.mu.Lock()
	if st.skip && st.session.Stage == StageScanning {
		// A skip accepted while this failure was landing wins: the raw
		// file is stored instead of surfacing the error. persistSkip
		// moves the session to Saving, so a failure during the fallback
		// cannot loop back here.
		id := st.session.ID
		o.mu.Unlock()
		o.logger.Info("scan failure resolved as skip", "id", id, "error", err)
		return o.persistSkip(st)
	}
	if !st.superseded {
		st.session = Apply(st.session, Event{Kind: EventFail, Message: msg, ErrorKind: kind, At: o.now()})
	}
	sess := st.session
	o.mu.Unlock()

	o.logger.Warn("intake failed", "id", sess.ID, "kind", kind, "error", err)
	return sess
}

func labelFor(f fields.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return fields.HumanizeName(f.Name)
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func deriveTitle(sess Session) string {
	if sess.Extracted != nil && sess.Extracted.DocumentTitle != "" {
		return sess.Extracted.DocumentTitle
	}
	base := strings.TrimSuffix(sess.FileName, filepath.Ext(sess.FileName))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" {
		return "Untitled Document"
	}
	return base
}
