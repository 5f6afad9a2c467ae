package autoplay

import "sync"

// Input is a user gesture understood by the engine
type Input int

const (
	// InputTogglePause is the spacebar
	InputTogglePause Input = iota
	// InputHoldStart and InputHoldEnd bracket a press-hold on the wave
	InputHoldStart
	InputHoldEnd
	InputNext
	InputPrev
	InputClose
)

func (in Input) String() string {
	switch in {
	case InputTogglePause:
		return "togglePause"
	case InputHoldStart:
		return "holdStart"
	case InputHoldEnd:
		return "holdEnd"
	case InputNext:
		return "next"
	case InputPrev:
		return "prev"
	case InputClose:
		return "close"
	default:
		return "unknown"
	}
}

// InputSource delivers user gestures to listeners. The engine subscribes a listener when a wave
// is entered and unsubscribes it when the wave is torn down, while holding its own lock:
// implementations must neither call listeners from Subscribe nor hold a lock of theirs while
// calling listeners.
type InputSource interface {
	Subscribe(fn func(Input)) (unsubscribe func())
}

// Broadcaster is an InputSource fanning each emitted input out to the current listeners.
type Broadcaster struct {
	mu   sync.Mutex
	seq  int
	subs map[int]func(Input)
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[int]func(Input){}}
}

func (b *Broadcaster) Subscribe(fn func(Input)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Emit delivers in to every listener subscribed at the time of the call
func (b *Broadcaster) Emit(in Input) {
	b.mu.Lock()
	fns := make([]func(Input), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(in)
	}
}

// Listeners returns the number of listeners currently subscribed
func (b *Broadcaster) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
