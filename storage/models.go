package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Document is a persisted canvas.
type Document struct {
	ID        string
	CreatedAt time.Time
}

// Generation records the outcome of one make-real invocation.
type Generation struct {
	ID         string
	DocumentID string
	ShapeID    string
	Status     string // "committed" or "failed"
	Error      string
	CreatedAt  time.Time
}
