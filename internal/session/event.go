package session

import "time"

// EventKind identifies a playback event variant.
type EventKind int

const (
	KindInitialized EventKind = iota
	KindBufferingUpdate
	KindBufferingStart
	KindBufferingEnd
	KindCompleted
	KindError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case KindInitialized:
		return "Initialized"
	case KindBufferingUpdate:
		return "BufferingUpdate"
	case KindBufferingStart:
		return "BufferingStart"
	case KindBufferingEnd:
		return "BufferingEnd"
	case KindCompleted:
		return "Completed"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Event is one of Initialized, BufferingUpdate, BufferingStart, BufferingEnd,
// Completed or ErrorEvent.
type Event interface {
	Kind() EventKind
}

// Initialized is delivered once, when the engine first becomes ready.
// Width and Height are the displayed size (already swapped for 90/270
// rotations) and are zero when the engine could not determine them.
type Initialized struct {
	Duration           time.Duration
	Width              int
	Height             int
	RotationCorrection int
}

// BufferingUpdate reports how far the media is buffered.
type BufferingUpdate struct {
	BufferedEnd time.Duration
}

// BufferingStart is delivered when playback starts waiting for data.
type BufferingStart struct{}

// BufferingEnd is delivered when playback stops waiting for data.
type BufferingEnd struct{}

// Completed is delivered at the terminal end of the stream.
type Completed struct{}

// ErrorEvent is delivered once when the engine fails. No event follows it.
type ErrorEvent struct {
	Code    string // one of the engine.ErrCode* values
	Message string
}

func (Initialized) Kind() EventKind     { return KindInitialized }
func (BufferingUpdate) Kind() EventKind { return KindBufferingUpdate }
func (BufferingStart) Kind() EventKind  { return KindBufferingStart }
func (BufferingEnd) Kind() EventKind    { return KindBufferingEnd }
func (Completed) Kind() EventKind       { return KindCompleted }
func (ErrorEvent) Kind() EventKind      { return KindError }
