package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/cuttercd/cutter/pkg/convention"
	"github.com/cuttercd/cutter/pkg/ledger"
)

// These are all the types of events.
const (
	EventCommit   = "commit"
	EventDecision = "decision"
	EventRelease  = "release"
	EventPhase    = "phase"
	EventCancel   = "cancel"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Decisions as recorded in decision events.
const (
	DecisionCut  = "cut-release"
	DecisionSkip = "no-release"
)

type EventID int64

type Event struct {
	// ID is a sequence number for this event. Will be auto-set by the
	// broadcaster if blank.
	ID EventID `json:"id"`

	// Type is the type of event.
	Type string `json:"type"`

	// Branch the event concerns, if any.
	Branch string `json:"branch,omitempty"`

	// RunID is the pipeline run the event belongs to, if any.
	RunID string `json:"runID,omitempty"`

	// StartedAt is the time the event began.
	StartedAt time.Time `json:"startedAt"`

	// EndedAt is the time the event ended. For instantaneous events,
	// this will be the same as StartedAt.
	EndedAt time.Time `json:"endedAt"`

	// LogLevel for this event. Used to indicate how important it is.
	// `debug|info|warn|error`
	LogLevel string `json:"logLevel"`

	// Message is a pre-formatted string for errors and other stuff.
	// Should only be used if metadata is empty.
	Message string `json:"message,omitempty"`

	// Metadata is Event.Type-specific metadata. If an event has no
	// metadata, this will be nil.
	Metadata EventMetadata `json:"metadata,omitempty"`
}

type EventWriter interface {
	// LogEvent records a message in the history.
	LogEvent(Event) error
}

func (e Event) String() string {
	if e.Message != "" {
		return e.Message
	}

	switch e.Type {
	case EventCommit:
		metadata := e.Metadata.(*CommitEventMetadata)
		return fmt.Sprintf("Commit: %s on %s, %q", shortRevision(metadata.Revision), e.Branch, metadata.Subject)
	case EventDecision:
		metadata := e.Metadata.(*DecisionEventMetadata)
		if metadata.Decision == DecisionCut {
			return fmt.Sprintf("Decision: cut %s at %s (%s bump over %d commits)",
				metadata.Tag, shortRevision(metadata.Revision), metadata.Bump, metadata.Commits)
		}
		return fmt.Sprintf("Decision: no release at %s (%s)", shortRevision(metadata.Revision), metadata.Reason)
	case EventRelease:
		metadata := e.Metadata.(*ReleaseEventMetadata)
		return fmt.Sprintf("Released: %s at %s on %s", metadata.Record.Tag, shortRevision(metadata.Record.CommitID), metadata.Record.Branch)
	case EventPhase:
		metadata := e.Metadata.(*PhaseEventMetadata)
		switch {
		case metadata.Error != "" && metadata.Phase != "":
			return fmt.Sprintf("Pipeline %s: %s failed: %s", shortRunID(e.RunID), metadata.Phase, metadata.Error)
		case metadata.Error != "":
			return fmt.Sprintf("Pipeline %s failed: %s", shortRunID(e.RunID), metadata.Error)
		default:
			return fmt.Sprintf("Pipeline %s: %s", shortRunID(e.RunID), metadata.Phase)
		}
	case EventCancel:
		metadata := e.Metadata.(*CancelEventMetadata)
		return fmt.Sprintf("Pipeline %s: cancel requested by %s", shortRunID(e.RunID), metadata.By)
	default:
		return fmt.Sprintf("Unknown event: %s", e.Type)
	}
}

func shortRevision(rev string) string {
	if len(rev) <= 7 {
		return rev
	}
	return rev[:7]
}

func shortRunID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// CommitEventMetadata is the metadata for when a new commit is
// observed on a watched branch.
type CommitEventMetadata struct {
	Revision string `json:"revision"`
	Subject  string `json:"subject,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

func (c CommitEventMetadata) ShortRevision() string {
	return shortRevision(c.Revision)
}

// DecisionEventMetadata is the metadata for the outcome of running
// release decision logic against a branch head.
type DecisionEventMetadata struct {
	Revision string              `json:"revision"`
	Bump     convention.BumpKind `json:"bump"`
	Decision string              `json:"decision"`
	Tag      string              `json:"tag,omitempty"`
	Commits  int                 `json:"commits,omitempty"`
	Reason   string              `json:"reason,omitempty"`
}

// ReleaseEventMetadata is the metadata for when a release has been
// cut: recorded in the ledger, tagged, and announced on the branch.
type ReleaseEventMetadata struct {
	Record         ledger.Record `json:"record"`
	MarkerRevision string        `json:"markerRevision,omitempty"`
	// Message of the error if there was one.
	Error string `json:"error,omitempty"`
}

// PhaseEventMetadata is the metadata for a pipeline run entering a
// phase, or failing in one.
type PhaseEventMetadata struct {
	Revision string `json:"revision"`
	Tag      string `json:"tag,omitempty"`
	Phase    string `json:"phase"`
	Attempt  int    `json:"attempt,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CancelEventMetadata is the metadata for an operator asking a run to
// stop.
type CancelEventMetadata struct {
	By string `json:"by,omitempty"`
}

type UnknownEventMetadata map[string]interface{}

func (e *Event) UnmarshalJSON(in []byte) error {
	type alias Event
	var wireEvent struct {
		*alias
		MetadataBytes json.RawMessage `json:"metadata,omitempty"`
	}
	wireEvent.alias = (*alias)(e)

	// Now unmarshall custom wireEvent with RawMessage
	if err := json.Unmarshal(in, &wireEvent); err != nil {
		return err
	}
	if wireEvent.Type == "" {
		return errors.New("Event type is empty")
	}

	// The cases correspond to kinds of event that we care about
	// processing e.g., for notifications.
	switch wireEvent.Type {
	case EventCommit:
		var metadata CommitEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	case EventDecision:
		var metadata DecisionEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	case EventRelease:
		var metadata ReleaseEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	case EventPhase:
		var metadata PhaseEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	case EventCancel:
		var metadata CancelEventMetadata
		if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
			return err
		}
		e.Metadata = &metadata
	default:
		if len(wireEvent.MetadataBytes) > 0 {
			var metadata UnknownEventMetadata
			if err := json.Unmarshal(wireEvent.MetadataBytes, &metadata); err != nil {
				return err
			}
			e.Metadata = metadata
		}
	}

	return nil
}

// EventMetadata is a type safety trick used to make sure that Metadata field
// of Event is always a pointer, so that consumers can cast without being
// concerned about encountering a value type instead. It works by virtue of the
// fact that the method is only defined for pointer receivers; the actual
// method chosen is entirely arbitary.
type EventMetadata interface {
	Type() string
}

func (cem *CommitEventMetadata) Type() string {
	return EventCommit
}

func (dem *DecisionEventMetadata) Type() string {
	return EventDecision
}

func (rem *ReleaseEventMetadata) Type() string {
	return EventRelease
}

func (pem *PhaseEventMetadata) Type() string {
	return EventPhase
}

func (cem *CancelEventMetadata) Type() string {
	return EventCancel
}

// Special exception from pointer receiver rule, as UnknownEventMetadata is a
// type alias for a map
func (uem UnknownEventMetadata) Type() string {
	return "unknown"
}
