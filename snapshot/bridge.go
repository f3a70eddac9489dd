// Package snapshot implements the request/reply channel used to capture the
// rendered content of embedded preview frames.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds a single capture round-trip.
const DefaultTimeout = 2000 * time.Millisecond

const (
	ActionTakeScreenshot = "take-screenshot"
	ActionMount          = "mount"
	ActionUnmount        = "unmount"
)

// Request is posted into the embedded content of one shape.
type Request struct {
	Action  string `json:"action"`
	ShapeID string `json:"shapeId"`
}

// Reply is posted back by the embedded content.
type Reply struct {
	Screenshot string `json:"screenshot"`
	ShapeID    string `json:"shapeId"`
}

// Frame is a live handle to the embedded content of a shape.
type Frame interface {
	Post(ctx context.Context, req Request) error
}

var ErrFrameClosed = errors.New("snapshot: frame closed")

// Bridge correlates capture requests with replies by exact shape id.
type Bridge struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	frames  map[string]Frame
	waiters map[string]map[chan Reply]struct{}
}

func NewBridge(timeout time.Duration, logger *slog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		timeout: timeout,
		logger:  logger,
		frames:  make(map[string]Frame),
		waiters: make(map[string]map[chan Reply]struct{}),
	}
}

// Mount registers f as the live frame of shapeID, replacing any previous one.
func (b *Bridge) Mount(shapeID string, f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames[shapeID] = f
}

// Unmount drops the frame of shapeID if it is still f.
func (b *Bridge) Unmount(shapeID string, f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.frames[shapeID]; ok && cur == f {
		delete(b.frames, shapeID)
	}
}

func (b *Bridge) frame(shapeID string) (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.frames[shapeID]
	return f, ok
}

// Deliver hands r to every waiter on r.ShapeID. It reports whether anyone
// was waiting; unmatched replies are dropped.
func (b *Bridge) Deliver(r Reply) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := b.waiters[r.ShapeID]
	if len(ws) == 0 {
		return false
	}
	for ch := range ws {
		select {
		case ch <- r:
		default:
		}
	}
	return true
}

func (b *Bridge) listen(shapeID string) chan Reply {
	ch := make(chan Reply, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waiters[shapeID] == nil {
		b.waiters[shapeID] = make(map[chan Reply]struct{})
	}
	b.waiters[shapeID][ch] = struct{}{}
	return ch
}

func (b *Bridge) stopListening(shapeID string, ch chan Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters[shapeID], ch)
	if len(b.waiters[shapeID]) == 0 {
		delete(b.waiters, shapeID)
	}
}

// Capture asks the frame of shapeID for a screenshot and waits for the
// tagged reply. It never fails: a missing frame, a post error, a timeout or
// a cancelled ctx all yield ok=false.
func (b *Bridge) Capture(ctx context.Context, shapeID string) (dataURI string, ok bool) {
	f, found := b.frame(shapeID)
	if !found {
		b.logger.Info("snapshot: frame not found or not accessible", "shape", shapeID)
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ch := b.listen(shapeID)
	defer b.stopListening(shapeID, ch)

	if err := f.Post(ctx, Request{Action: ActionTakeScreenshot, ShapeID: shapeID}); err != nil {
		b.logger.Warn("snapshot: post capture request", "shape", shapeID, "error", err)
		return "", false
	}

	for {
		select {
		case r := <-ch:
			if r.Screenshot == "" {
				continue
			}
			return r.Screenshot, true
		case <-ctx.Done():
			b.logger.Debug("snapshot: no reply", "shape", shapeID, "error", ctx.Err())
			return "", false
		}
	}
}
