package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventLogLine        EventKind = "log_line"
	EventStreamComplete EventKind = "stream_complete"
	EventStatusChange   EventKind = "status_change"
	EventStatSample     EventKind = "stat_sample"
	EventExecResult     EventKind = "exec_result"
	EventFileList       EventKind = "file_list"
	EventFileContent    EventKind = "file_content"
)

// Event is the closed set of messages published to a room. New variants must
// be added to DecodeEvent as well; the codec is the single point where the
// set is matched exhaustively.
type Event interface {
	Kind() EventKind
}

// LogLine is one line of output from a streaming producer. Seq is
// monotonically increasing within a stream session.
type LogLine struct {
	Seq       uint64    `json:"seq"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (LogLine) Kind() EventKind { return EventLogLine }

// StreamComplete terminates a stream: the producer exited, was stopped, or
// failed to launch.
type StreamComplete struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (StreamComplete) Kind() EventKind { return EventStreamComplete }

// StatusChange reports the outcome of a lifecycle action (start, stop,
// restart, remove) against the room's target. The Action tag lets consumers
// tell these apart from log traffic published by a different producer.
type StatusChange struct {
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (StatusChange) Kind() EventKind { return EventStatusChange }

type StatSample struct {
	CPU       string    `json:"cpu"`
	Memory    string    `json:"memory"`
	NetIO     string    `json:"net_io"`
	BlockIO   string    `json:"block_io"`
	Timestamp time.Time `json:"timestamp"`
}

func (StatSample) Kind() EventKind { return EventStatSample }

type ExecResult struct {
	Output    string    `json:"output"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (ExecResult) Kind() EventKind { return EventExecResult }

type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type FileList struct {
	Path      string      `json:"path"`
	Entries   []FileEntry `json:"entries"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (FileList) Kind() EventKind { return EventFileList }

type FileContent struct {
	Path      string    `json:"path"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (FileContent) Kind() EventKind { return EventFileContent }

// Envelope is the wire shape delivered to subscribers and relayed between
// workers: the room, the event kind tag, and the event payload.
type Envelope struct {
	Room  string    `json:"room"`
	Kind  EventKind `json:"kind"`
	Event Event     `json:"event"`
}

func NewEnvelope(room string, ev Event) Envelope {
	return Envelope{Room: room, Kind: ev.Kind(), Event: ev}
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Room  string          `json:"room"`
		Kind  EventKind       `json:"kind"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ev, err := DecodeEvent(raw.Kind, raw.Event)
	if err != nil {
		return err
	}
	e.Room = raw.Room
	e.Kind = raw.Kind
	e.Event = ev
	return nil
}

// DecodeEvent reconstructs a typed event from its kind tag and payload.
func DecodeEvent(kind EventKind, data []byte) (Event, error) {
	switch kind {
	case EventLogLine:
		var ev LogLine
		err := json.Unmarshal(data, &ev)
		return ev, err
	case EventStreamComplete:
		var ev StreamComplete
		err := json.Unmarshal(data, &ev)
		return ev, err
	case EventStatusChange:
		var ev StatusChange
		err := json.Unmarshal(data, &ev)
		return ev, err
	case EventStatSample:
		var ev StatSample
		err := json.Unmarshal(data, &ev)
		return ev, err
	case EventExecResult:
		var ev ExecResult
		err := json.Unmarshal(data, &ev)
		return ev, err
	case EventFileList:
		var ev FileList
		err := json.Unmarshal(data, &ev)
		return ev, err
	case EventFileContent:
		var ev FileContent
		err := json.Unmarshal(data, &ev)
		return ev, err
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
