package extract

import "github.com/mwhitford/cabinet/internal/fields"

// File is the in-memory form of a user-supplied upload. Uploads are capped
// at 10 MB before they reach this type, so holding the bytes is fine.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the file size in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// EnhancedData is the structured output of one successful extraction call.
// It is immutable after creation: human corrections live in a separate
// edited-value map and never mutate this structure.
type EnhancedData struct {
	Fields          map[string]fields.Field `json:"fields"`
	DocumentTitle   string                  `json:"documentTitle"`
	Summary         string                  `json:"summary"`
	AllDatesFound   []string                `json:"allDatesFound"`
	AllNumbersFound []string                `json:"allNumbersFound"`
	AllNamesFound   []string                `json:"allNamesFound"`
}

// ScanResult is the normalized result of either recognition path. The fast
// path's combined call and the staged scan call have different wire shapes;
// the adapter folds both into this form.
type ScanResult struct {
	DocumentType    string        `json:"documentType"`
	SuggestedDomain string        `json:"suggestedDomain"`
	Enhanced        *EnhancedData `json:"enhancedData"`
}

// UploadMetadata accompanies the raw file on the plain upload call.
type UploadMetadata struct {
	DocumentType   string         `json:"documentType"`
	Category       string         `json:"category,omitempty"`
	ExpirationDate string         `json:"expirationDate,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
}

// UploadResult identifies the stored file on the remote side.
type UploadResult struct {
	ID         string `json:"id"`
	StorageRef string `json:"storageRef"`
}
