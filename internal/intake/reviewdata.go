package intake

import (
	"fmt"
	"sort"

	"github.com/mwhitford/cabinet/internal/fields"
)

// ReviewField is one field prepared for display: current value (edits
// applied), formatted form, and the confidence bucket it falls into.
type ReviewField struct {
	Name       string      `json:"name"`
	Label      string      `json:"label"`
	Value      any         `json:"value"`
	Display    string      `json:"display"`
	Type       fields.Type `json:"fieldType"`
	Confidence float64     `json:"confidence"`
	Bucket     string      `json:"bucket"`
	Edited     bool        `json:"edited"`
}

// ReviewGroup is a display category with its fields in stable order.
type ReviewGroup struct {
	Category string        `json:"category"`
	Fields   []ReviewField `json:"fields"`
}

// ReviewData is the full review screen payload for a session.
type ReviewData struct {
	SessionID       string        `json:"sessionId"`
	DocumentType    string        `json:"documentType"`
	SuggestedDomain string        `json:"suggestedDomain,omitempty"`
	DocumentTitle   string        `json:"documentTitle,omitempty"`
	Summary         string        `json:"summary,omitempty"`
	Groups          []ReviewGroup `json:"groups"`
	HighCount       int           `json:"highCount"`
	MediumCount     int           `json:"mediumCount"`
	LowCount        int           `json:"lowCount"`
}

// Review builds the review payload for a session in the Review or
// PreviewConfirm stage.
func (o *Orchestrator) Review(id string) (ReviewData, error) {
	o.mu.Lock()
	st, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return ReviewData{}, ErrUnknownSession
	}
	if st.session.Stage != StageReview && st.session.Stage != StagePreviewConfirm {
		stage := st.session.Stage
		o.mu.Unlock()
		return ReviewData{}, fmt.Errorf("session has no review data (stage %s)", stage)
	}
	sess := st.session
	ctrl := st.review
	o.mu.Unlock()

	data := ReviewData{
		SessionID:       sess.ID,
		DocumentType:    sess.DocumentType,
		SuggestedDomain: sess.SuggestedDomain,
	}
	if sess.Extracted == nil {
		return data, nil
	}
	data.DocumentTitle = sess.Extracted.DocumentTitle
	data.Summary = sess.Extracted.Summary

	edits := map[string]any{}
	if ctrl != nil {
		edits = ctrl.Edited()
	}

	all := make([]fields.Field, 0, len(sess.Extracted.Fields))
	for _, f := range sess.Extracted.Fields {
		all = append(all, f)
	}
	buckets := fields.CategorizeByConfidence(all, o.policyNow().Thresholds)
	data.HighCount = len(buckets.High)
	data.MediumCount = len(buckets.Medium)
	data.LowCount = len(buckets.Low)

	bucketOf := make(map[string]string, len(all))
	for _, f := range buckets.High {
		bucketOf[f.Name] = "high"
	}
	for _, f := range buckets.Medium {
		bucketOf[f.Name] = "medium"
	}
	for _, f := range buckets.Low {
		bucketOf[f.Name] = "low"
	}

	for category, grouped := range fields.GroupByCategory(all) {
		group := ReviewGroup{Category: category}
		for _, f := range grouped {
			value := f.Value
			edited := false
			if v, ok := edits[f.Name]; ok {
				edited = valuesDiffer(v, f.Value)
				value = v
			}
			shown := f
			shown.Value = value
			group.Fields = append(group.Fields, ReviewField{
				Name:       f.Name,
				Label:      labelFor(f),
				Value:      value,
				Display:    fields.FormatValue(shown),
				Type:       f.Type,
				Confidence: f.Confidence,
				Bucket:     bucketOf[f.Name],
				Edited:     edited,
			})
		}
		sort.Slice(group.Fields, func(i, j int) bool { return group.Fields[i].Name < group.Fields[j].Name })
		data.Groups = append(data.Groups, group)
	}
	sort.Slice(data.Groups, func(i, j int) bool {
		return categoryRank(data.Groups[i].Category) < categoryRank(data.Groups[j].Category)
	})

	return data, nil
}

// categoryRank orders groups the way the review screen shows them, most
// actionable first.
func categoryRank(category string) int {
	switch category {
	case fields.CategoryDates:
		return 0
	case fields.CategoryFinancial:
		return 1
	case fields.CategoryKeyInfo:
		return 2
	case fields.CategoryPersonal:
		return 3
	case fields.CategoryContact:
		return 4
	default:
		return 5
	}
}

func valuesDiffer(a, b any) bool {
	return fmt.Sprintf("%v", a) != fmt.Sprintf("%v", b)
}
