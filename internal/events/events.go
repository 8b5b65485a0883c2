// Package events defines the push-style event surface the engine
// reports to its host, and the atomic progress counters both sides of
// a session share with it (spec.md §4.6, §5).
package events

import (
	"sync/atomic"
	"time"

	"github.com/qstransfer/qs/internal/endpoint"
)

// Kind discriminates the terminal and informational events the engine
// may emit.
type Kind int

const (
	ConnectedToServer Kind = iota
	PeerConnected
	TicketReady
	OfferReceived
	FilesDecision
	InitialProgress
	BytesTransferred
	TransferFinished
	TransferCancelled
	Error
)

func (k Kind) String() string {
	switch k {
	case ConnectedToServer:
		return "ConnectedToServer"
	case PeerConnected:
		return "PeerConnected"
	case TicketReady:
		return "TicketReady"
	case OfferReceived:
		return "OfferReceived"
	case FilesDecision:
		return "FilesDecision"
	case InitialProgress:
		return "InitialProgress"
	case BytesTransferred:
		return "BytesTransferred"
	case TransferFinished:
		return "TransferFinished"
	case TransferCancelled:
		return "TransferCancelled"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ErrorKind mirrors the taxonomy surfaced at the engine boundary
// (spec.md §7); it rides inside an Event of Kind Error.
type ErrorKind int

const (
	NetworkError ErrorKind = iota
	ProtocolError
	IoError
	Rejected
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case NetworkError:
		return "NetworkError"
	case ProtocolError:
		return "ProtocolError"
	case IoError:
		return "IoError"
	case Rejected:
		return "Rejected"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// FileEntryInfo is the minimal per-entry description surfaced in
// OfferReceived and InitialProgress events, independent of any
// internal/offer type so this package stays leaf-level.
type FileEntryInfo struct {
	RelativePath []string
	Size         uint64
	IsDir        bool
}

// Event is the single payload type pushed to an EventSink; only the
// fields relevant to Kind are populated.
type Event struct {
	Kind Kind

	Class              endpoint.ConnectionClass // PeerConnected
	Ticket             string                   // TicketReady
	Entries            []FileEntryInfo          // OfferReceived
	Accepted           bool                     // FilesDecision
	PerFileBytesAlready []uint64                // InitialProgress
	TotalSoFar         uint64                   // BytesTransferred
	Reason             string                   // TransferCancelled
	ErrorKind          ErrorKind                // Error
	Message            string                   // Error
}

// EventSink is the fixed small interface a host implements to receive
// engine events; the engine never fans events out to multiple
// subscribers itself (spec.md §9 "Many event subscribers").
type EventSink interface {
	OnEvent(Event)
}

// SinkFunc adapts a plain function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(e Event) { f(e) }

// ProgressThrottle ≈ one BytesTransferred event per this interval, per
// spec.md §4.6.
const ProgressThrottle = 75 * time.Millisecond

// Counter is the session's single-writer, many-reader byte counter
// (spec.md §5 "Shared state"). The transfer engine task is the sole
// writer; hosts and the throttled emitter read it via Load.
type Counter struct {
	bytes int64
}

func (c *Counter) Add(n uint64) uint64 {
	return uint64(atomic.AddInt64(&c.bytes, int64(n)))
}

func (c *Counter) Load() uint64 {
	return uint64(atomic.LoadInt64(&c.bytes))
}

// CancelFlag is the session's cooperative cancellation signal, observed
// at every suspension point (spec.md §5 "Cancellation semantics").
type CancelFlag struct {
	flag int32
}

func (c *CancelFlag) Set() { atomic.StoreInt32(&c.flag, 1) }

func (c *CancelFlag) IsSet() bool { return atomic.LoadInt32(&c.flag) != 0 }

// Emitter wraps a Counter and an EventSink to throttle BytesTransferred
// events to at most one per ProgressThrottle, always flushing a final
// event when the caller is done.
type Emitter struct {
	sink    EventSink
	counter *Counter
	last    time.Time
}

func NewEmitter(sink EventSink, counter *Counter) *Emitter {
	return &Emitter{sink: sink, counter: counter}
}

// Report adds n bytes to the counter and emits a BytesTransferred event
// if enough time has passed since the last one.
func (e *Emitter) Report(n uint64) {
	total := e.counter.Add(n)
	now := time.Now()
	if now.Sub(e.last) < ProgressThrottle {
		return
	}
	e.last = now
	e.sink.OnEvent(Event{Kind: BytesTransferred, TotalSoFar: total})
}

// Flush unconditionally emits the current total, used once at the end
// of a transfer so the host's final count is exact even if the last
// chunk arrived inside the throttle window.
func (e *Emitter) Flush() {
	e.sink.OnEvent(Event{Kind: BytesTransferred, TotalSoFar: e.counter.Load()})
}
