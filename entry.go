package orbit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type discriminates entries. The set of types is closed: every entry has
// exactly one of the constants below.
type Type string

const (
	TypeRequest     Type = "request"
	TypeQuery       Type = "query"
	TypeLog         Type = "log"
	TypeException   Type = "exception"
	TypeJob         Type = "job"
	TypeCommand     Type = "command"
	TypeCache       Type = "cache"
	TypeModel       Type = "model"
	TypeHTTPClient  Type = "http_client"
	TypeMail        Type = "mail"
	TypeSignal      Type = "signal"
	TypeRedis       Type = "redis"
	TypeGate        Type = "gate"
	TypeTransaction Type = "transaction"
	TypeStorage     Type = "storage"
)

// AllTypes lists every valid type, in a stable order.
var AllTypes = []Type{
	TypeRequest,
	TypeQuery,
	TypeLog,
	TypeException,
	TypeJob,
	TypeCommand,
	TypeCache,
	TypeModel,
	TypeHTTPClient,
	TypeMail,
	TypeSignal,
	TypeRedis,
	TypeGate,
	TypeTransaction,
	TypeStorage,
}

var typeIndex = func() map[Type]struct{} {
	m := make(map[Type]struct{}, len(AllTypes))
	for _, t := range AllTypes {
		m[t] = struct{}{}
	}
	return m
}()

// Valid returns true if t is one of the known types.
func (t Type) Valid() bool {
	_, ok := typeIndex[t]
	return ok
}

// ParseType converts s to a Type, rejecting anything outside the closed set.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown entry type %q", ErrInvalidRequest, s)
	}
	return t, nil
}

//
//
//

// Entry is a single captured telemetry record. Entries are immutable: all
// fields are set at construction, and the payload is held as encoded JSON so
// that readers always receive their own copy.
//
// Entries are safe for concurrent use.
type Entry struct {
	id         string
	typ        Type
	payload    json.RawMessage
	duration   float64
	hasDur     bool
	familyHash string
	createdAt  time.Time
}

// EntryParams are the inputs to NewEntry. Only Type is required.
type EntryParams struct {
	// ID of the entry. Optional. By default, a new ULID is assigned.
	ID string

	// Type of the entry. Required.
	Type Type

	// Payload is a struct, a map, or pre-encoded JSON (json.RawMessage or
	// []byte). A nil payload is stored as an empty object.
	Payload any

	// DurationMS is the span of the observed operation, in milliseconds.
	// Optional. Nil for point-in-time events. Must not be negative.
	DurationMS *float64

	// FamilyHash correlates the entry with a unit of work. Optional.
	FamilyHash string

	// CreatedAt is the creation timestamp. Optional. By default, now (UTC).
	CreatedAt time.Time
}

// NewEntry validates the params and constructs an immutable entry.
func NewEntry(p EntryParams) (*Entry, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown entry type %q", ErrInvalidRequest, p.Type)
	}

	payload, err := encodePayload(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	e := &Entry{
		id:         p.ID,
		typ:        p.Type,
		payload:    payload,
		familyHash: p.FamilyHash,
		createdAt:  p.CreatedAt,
	}

	if p.DurationMS != nil {
		d := *p.DurationMS
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, fmt.Errorf("%w: invalid duration %v", ErrInvalidRequest, d)
		}
		e.duration, e.hasDur = d, true
	}

	if e.createdAt.IsZero() {
		e.createdAt = time.Now().UTC()
	}

	if e.id == "" {
		e.id = newEntryID(e.createdAt)
	}

	return e, nil
}

func encodePayload(v any) (json.RawMessage, error) {
	var data []byte
	switch x := v.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		data = x
	case []byte:
		data = x
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = b
	}

	// Compact into a private buffer. This both validates the JSON and makes
	// sure the entry never aliases caller memory.
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, err
	}
	if buf.Len() <= 0 || buf.Bytes()[0] != '{' {
		return nil, fmt.Errorf("payload must be a JSON object")
	}
	return buf.Bytes(), nil
}

var entryIDEntropy = ulid.DefaultEntropy()

func newEntryID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), entryIDEntropy).String()
}

// ID returns the unique identifier of the entry.
func (e *Entry) ID() string { return e.id }

// Type returns the type of the entry.
func (e *Entry) Type() Type { return e.typ }

// FamilyHash returns the correlation token, and false when the entry was
// recorded outside of any unit of work.
func (e *Entry) FamilyHash() (string, bool) { return e.familyHash, e.familyHash != "" }

// CreatedAt returns the creation timestamp of the entry.
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// Duration returns the span of the observed operation in milliseconds, and
// false for point-in-time events.
func (e *Entry) Duration() (float64, bool) { return e.duration, e.hasDur }

// RawPayload returns a copy of the encoded payload.
func (e *Entry) RawPayload() json.RawMessage {
	return append(json.RawMessage(nil), e.payload...)
}

// Payload decodes and returns a fresh copy of the payload. Numbers decode as
// float64, per encoding/json.
func (e *Entry) Payload() map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal(e.payload, &m) // validated at construction
	return m
}

// DecodePayload decodes the payload into dst, typically one of the operation
// structs corresponding to the entry type.
func (e *Entry) DecodePayload(dst any) error {
	return json.Unmarshal(e.payload, dst)
}

//
//
//

type jsonEntry struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	DurationMS *float64        `json:"duration_ms"`
	FamilyHash *string         `json:"family_hash"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MarshalJSON implements json.Marshaler.
func (e *Entry) MarshalJSON() ([]byte, error) {
	je := jsonEntry{
		ID:        e.id,
		Type:      e.typ,
		Payload:   e.payload,
		CreatedAt: e.createdAt,
	}
	if e.hasDur {
		d := e.duration
		je.DurationMS = &d
	}
	if e.familyHash != "" {
		fh := e.familyHash
		je.FamilyHash = &fh
	}
	return json.Marshal(je)
}

// UnmarshalJSON implements json.Unmarshaler. It applies the same validation
// as NewEntry, and is meant for restoring previously marshaled entries.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var je jsonEntry
	if err := json.Unmarshal(data, &je); err != nil {
		return err
	}

	if je.ID == "" {
		return fmt.Errorf("%w: entry without id", ErrInvalidRequest)
	}

	var fh string
	if je.FamilyHash != nil {
		fh = *je.FamilyHash
	}

	ne, err := NewEntry(EntryParams{
		ID:         je.ID,
		Type:       je.Type,
		Payload:    je.Payload,
		DurationMS: je.DurationMS,
		FamilyHash: fh,
		CreatedAt:  je.CreatedAt,
	})
	if err != nil {
		return err
	}

	*e = *ne
	return nil
}

//
//
//

// Entries is a slice of entries, sortable newest first.
type Entries []*Entry

func (es Entries) Len() int      { return len(es) }
func (es Entries) Swap(i, j int) { es[i], es[j] = es[j], es[i] }
func (es Entries) Less(i, j int) bool {
	if ti, tj := es[i].createdAt, es[j].createdAt; !ti.Equal(tj) {
		return ti.After(tj)
	}
	return es[i].id > es[j].id
}

// SortOldestFirst sorts entries by ascending creation time, breaking ties by
// id, which is deterministic for ULIDs.
func SortOldestFirst(es []*Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		return olderEntry(es[i], es[j])
	})
}

func olderEntry(a, b *Entry) bool {
	if ta, tb := a.createdAt, b.createdAt; !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.id < b.id
}
