package trace

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Span records one traced operation. Spans buffer in memory until the
// emitter flushes them to the sink.
type Span struct {
	TraceID      string            `json:"traceId"`
	SpanID       string            `json:"spanId"`
	ParentSpanID string            `json:"parentSpanId,omitempty"`
	Operation    string            `json:"operationName"`
	StartTime    time.Time         `json:"startTime"`
	EndTime      time.Time         `json:"endTime"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// NewTraceID mints a fresh trace identifier for requests that did not
// supply one.
func NewTraceID() string {
	return uuid.NewString()
}

var spanCounter atomic.Uint64

func newSpanID() string {
	h := sha256.New()
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b, uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(b[8:], spanCounter.Add(1))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// StartSpan opens a span under the given trace. An empty traceID starts a
// new trace; an empty parentID makes this a root span.
func StartSpan(traceID, parentID, operation string) *Span {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return &Span{
		TraceID:      traceID,
		SpanID:       newSpanID(),
		ParentSpanID: parentID,
		Operation:    operation,
		StartTime:    time.Now().UTC(),
		Metadata:     make(map[string]string),
	}
}

// SetMeta attaches one metadata entry.
func (s *Span) SetMeta(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
}

// End closes the span.
func (s *Span) End() {
	s.EndTime = time.Now().UTC()
}

// EndWithError closes the span and records the failure.
func (s *Span) EndWithError(err error) {
	if err != nil {
		s.Error = err.Error()
	}
	s.End()
}
