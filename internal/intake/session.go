// Package intake drives a user-supplied file through the document pipeline:
// validation, remote recognition and extraction, human review, and
// persistence. The stage machine is expressed as a value-object Session
// plus a pure reducer, so transitions are testable without any transport
// or rendering surface.
package intake

import (
	"time"

	"github.com/mwhitford/cabinet/internal/extract"
)

// Stage is one discrete phase of the intake pipeline.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageUploading      Stage = "uploading"
	StageScanning       Stage = "scanning"
	StageClassifying    Stage = "classifying"
	StageExtracting     Stage = "extracting"
	StageReview         Stage = "review"
	StagePreviewConfirm Stage = "preview_confirm"
	StageSaving         Stage = "saving"
	StageComplete       Stage = "complete"
	StageError          Stage = "error"
)

// Terminal reports whether the stage ends a session. A new session always
// starts over from Idle.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// ErrorKind tags the failure taxonomy on an Error-stage session so callers
// can react differently to each kind.
type ErrorKind string

const (
	ErrorKindNone    ErrorKind = ""
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindAborted ErrorKind = "aborted"
	ErrorKindRemote  ErrorKind = "remote"
	ErrorKindParse   ErrorKind = "parse"
)

// Session is the per-upload lifecycle object. It is mutated only by the
// Orchestrator applying events; everyone else sees value snapshots.
type Session struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`

	Stage    Stage `json:"stage"`
	Progress int   `json:"progress"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`

	DocumentType    string                `json:"documentType,omitempty"`
	SuggestedDomain string                `json:"suggestedDomain,omitempty"`
	Extracted       *extract.EnhancedData `json:"extractedData,omitempty"`

	// Set when the session reaches Complete.
	RecordID   string `json:"recordId,omitempty"`
	StorageRef string `json:"storageRef,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// EventKind identifies a stage-machine event.
type EventKind string

const (
	// EventAdvance moves the session to a stage with a progress value.
	EventAdvance EventKind = "advance"
	// EventExtracted attaches scan results while advancing.
	EventExtracted EventKind = "extracted"
	// EventFail moves the session to Error with a tagged message.
	EventFail EventKind = "fail"
	// EventComplete ends the session successfully.
	EventComplete EventKind = "complete"
)

// Event is the input to the reducer.
type Event struct {
	Kind     EventKind
	Stage    Stage
	Progress int

	// EventFail
	Message   string
	ErrorKind ErrorKind

	// EventExtracted
	DocumentType    string
	SuggestedDomain string
	Extracted       *extract.EnhancedData

	// EventComplete
	RecordID   string
	StorageRef string

	At time.Time
}

// Apply is the pure stage-transition function. Progress is monotone for the
// life of a session: an event can never lower it. Terminal sessions ignore
// further events.
func Apply(s Session, e Event) Session {
	if s.Stage.Terminal() {
		return s
	}
	if !e.At.IsZero() {
		s.UpdatedAt = e.At
	}

	switch e.Kind {
	case EventAdvance:
		s.Stage = e.Stage
		if e.Progress > s.Progress {
			s.Progress = e.Progress
		}

	case EventExtracted:
		s.Stage = e.Stage
		if e.Progress > s.Progress {
			s.Progress = e.Progress
		}
		s.DocumentType = e.DocumentType
		s.SuggestedDomain = e.SuggestedDomain
		s.Extracted = e.Extracted

	case EventFail:
		s.Stage = StageError
		s.Error = e.Message
		s.ErrorKind = e.ErrorKind

	case EventComplete:
		s.Stage = StageComplete
		s.Progress = 100
		s.RecordID = e.RecordID
		if e.StorageRef != "" {
			s.StorageRef = e.StorageRef
		}
	}
	return s
}
