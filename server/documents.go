package server

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"make_real/canvas"
	"make_real/storage"
)

var (
	errBadDocumentID = errors.New("invalid document id")
	docIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// documentStore keeps open documents in memory, loading them from storage
// on first use.
type documentStore struct {
	mu     sync.Mutex
	docs   map[string]*canvas.Document
	reg    *canvas.Registry
	store  *storage.Store
	logger *slog.Logger
}

func newDocumentStore(reg *canvas.Registry, store *storage.Store, logger *slog.Logger) *documentStore {
	return &documentStore{
		docs:   make(map[string]*canvas.Document),
		reg:    reg,
		store:  store,
		logger: logger,
	}
}

func (d *documentStore) get(id string) (*canvas.Document, error) {
	if !docIDPattern.MatchString(id) {
		return nil, errBadDocumentID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.docs[id]; ok {
		return doc, nil
	}

	var persist canvas.Persister
	if d.store != nil {
		persist = storage.Persister{Store: d.store}
	}
	doc := canvas.NewDocument(id, d.reg, persist, d.logger)
	if d.store != nil {
		shapes, err := d.store.LoadShapes(id)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", id, err)
		}
		if err := doc.Load(shapes); err != nil {
			return nil, fmt.Errorf("load document %s: %w", id, err)
		}
		d.logger.Debug("document loaded", "doc", id, "shapes", len(shapes))
	}
	d.docs[id] = doc
	return doc, nil
}
