package orbit

import (
	"strings"
)

// Operation is a completed unit of observed work, ready to be recorded as an
// entry. Each operation type corresponds to exactly one entry type, and its
// exported fields define the payload of that entry.
//
// The set of operations is closed; use [Recorder.Emit] for raw ingestion.
type Operation interface {
	EntryType() Type
	isOperation()
}

// RequestOp is an inbound request handled by the application.
type RequestOp struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code,omitempty"`
	ClientAddr string `json:"client_addr,omitempty"`
	QueryCount int    `json:"query_count"`
}

// QueryOp is a single database query. The SQL field is normalized to its
// signature when recorded. The duplicate and slow fields are computed by the
// recorder, and any values set by the caller are ignored.
type QueryOp struct {
	SQL            string `json:"sql"`
	Params         []any  `json:"params"`
	Database       string `json:"database"`
	IsSlow         bool   `json:"is_slow"`
	IsDuplicate    bool   `json:"is_duplicate"`
	DuplicateCount int    `json:"duplicate_count"`
}

// LogOp is a single log record.
type LogOp struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Logger  string         `json:"logger,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// ExceptionOp is an unhandled error or recovered panic.
type ExceptionOp struct {
	ExceptionType string  `json:"exception_type"`
	Message       string  `json:"message"`
	Method        string  `json:"method,omitempty"`
	Path          string  `json:"path,omitempty"`
	Traceback     []Frame `json:"traceback"`
}

// Frame is a single call stack frame in an exception traceback.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
	Code     string `json:"code,omitempty"`
}

// Job statuses.
const (
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobProcessing = "processing"
)

// JobOp is a background job execution.
type JobOp struct {
	Name   string `json:"job_name"`
	Queue  string `json:"queue"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CommandOp is an executed administrative command.
type CommandOp struct {
	Command  string         `json:"command"`
	Args     []string       `json:"args"`
	Options  map[string]any `json:"options"`
	ExitCode int            `json:"exit_code"`
	Output   string         `json:"output"`
}

// CacheOp is a single cache operation. Hit is set for reads, and TTL for
// writes, where applicable.
type CacheOp struct {
	Operation string   `json:"operation"`
	Key       string   `json:"key"`
	Backend   string   `json:"backend"`
	Hit       *bool    `json:"hit,omitempty"`
	TTL       *float64 `json:"ttl,omitempty"`
}

// Model actions.
const (
	ModelCreated = "created"
	ModelUpdated = "updated"
	ModelDeleted = "deleted"
)

// ModelOp is a create, update, or delete of a domain entity. Changes, if
// present, maps field names to [old, new] pairs.
type ModelOp struct {
	Model          string           `json:"model"`
	Action         string           `json:"action"`
	PK             any              `json:"pk"`
	Representation string           `json:"representation,omitempty"`
	Changes        map[string][]any `json:"changes,omitempty"`
}

// HTTPClientOp is an outbound HTTP call. Either StatusCode or Error is set.
type HTTPClientOp struct {
	Method       string `json:"method"`
	URL          string `json:"url"`
	StatusCode   int    `json:"status_code,omitempty"`
	Error        string `json:"error,omitempty"`
	ResponseSize int64  `json:"response_size"`
}

// MailOp is an outbound mail dispatch.
type MailOp struct {
	Subject     string   `json:"subject"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Attachments int      `json:"attachments"`
	Error       string   `json:"error,omitempty"`
}

// SignalOp is an emitted domain event. Sender is nil when the event has no
// originating type.
type SignalOp struct {
	Signal         string         `json:"signal"`
	Sender         *string        `json:"sender"`
	ReceiversCount int            `json:"receivers_count"`
	Kwargs         map[string]any `json:"kwargs,omitempty"`
}

// RedisOp is a key-value store operation. ResultSize is set where applicable.
type RedisOp struct {
	Operation  string `json:"operation"`
	Key        string `json:"key"`
	ResultSize *int   `json:"result_size,omitempty"`
}

// Gate results.
const (
	GateGranted = "granted"
	GateDenied  = "denied"
)

// GateOp is a permission check.
type GateOp struct {
	User       string `json:"user"`
	Permission string `json:"permission"`
	Result     string `json:"result"`
	Backend    string `json:"backend,omitempty"`
	Object     string `json:"object,omitempty"`
}

// Transaction statuses.
const (
	TransactionCommitted  = "committed"
	TransactionRolledBack = "rolled_back"
)

// TransactionOp is a transaction boundary. Exception is the failure which
// caused a rollback, if any.
type TransactionOp struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Exception string `json:"exception,omitempty"`
}

// StorageOp is a file storage operation. Size and Exists are set where
// applicable.
type StorageOp struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Backend   string `json:"backend"`
	Size      *int64 `json:"size,omitempty"`
	Exists    *bool  `json:"exists,omitempty"`
}

func (RequestOp) EntryType() Type     { return TypeRequest }
func (QueryOp) EntryType() Type       { return TypeQuery }
func (LogOp) EntryType() Type         { return TypeLog }
func (ExceptionOp) EntryType() Type   { return TypeException }
func (JobOp) EntryType() Type         { return TypeJob }
func (CommandOp) EntryType() Type     { return TypeCommand }
func (CacheOp) EntryType() Type       { return TypeCache }
func (ModelOp) EntryType() Type       { return TypeModel }
func (HTTPClientOp) EntryType() Type  { return TypeHTTPClient }
func (MailOp) EntryType() Type        { return TypeMail }
func (SignalOp) EntryType() Type      { return TypeSignal }
func (RedisOp) EntryType() Type       { return TypeRedis }
func (GateOp) EntryType() Type        { return TypeGate }
func (TransactionOp) EntryType() Type { return TypeTransaction }
func (StorageOp) EntryType() Type     { return TypeStorage }

func (RequestOp) isOperation()     {}
func (QueryOp) isOperation()       {}
func (LogOp) isOperation()         {}
func (ExceptionOp) isOperation()   {}
func (JobOp) isOperation()         {}
func (CommandOp) isOperation()     {}
func (CacheOp) isOperation()       {}
func (ModelOp) isOperation()       {}
func (HTTPClientOp) isOperation()  {}
func (MailOp) isOperation()        {}
func (SignalOp) isOperation()      {}
func (RedisOp) isOperation()       {}
func (GateOp) isOperation()        {}
func (TransactionOp) isOperation() {}
func (StorageOp) isOperation()     {}

//
//
//

// IsImportant returns true for entries that survive an age-based prune when
// important entries are kept: exceptions, and logs with a level of error or
// above.
func IsImportant(e *Entry) bool {
	switch e.Type() {
	case TypeException:
		return true
	case TypeLog:
		var op LogOp
		if err := e.DecodePayload(&op); err != nil {
			return false
		}
		return isErrorLevel(op.Level)
	default:
		return false
	}
}

func isErrorLevel(level string) bool {
	level = strings.ToUpper(strings.TrimSpace(level))
	switch {
	case strings.HasPrefix(level, "ERROR"): // includes slog forms like ERROR+2
		return true
	case level == "CRITICAL", level == "FATAL", level == "PANIC":
		return true
	default:
		return false
	}
}
