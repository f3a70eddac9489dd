package storage

import (
	"errors"
	"testing"
	"time"

	"make_real/canvas"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != 2 || len(v2) != 2 {
		t.Errorf("migrations = %v then %v, want 2 each", v1, v2)
	}
}

func TestShapeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	frame := canvas.Shape{ID: "shape:f", Type: canvas.TypeFrame, X: 10, Y: 20, Props: canvas.Props{W: 320, H: 240}}
	child := canvas.Shape{ID: "shape:c", Type: canvas.TypeText, ParentID: "shape:f", X: 5, Y: 6,
		Props: canvas.Props{W: 100, H: 20, Text: "hello", Color: canvas.ColorRed}}
	prev := canvas.Shape{ID: "shape:p", Type: canvas.TypeResponse, Props: canvas.Props{W: 640, H: 360, HTML: "<!DOCTYPE html><html></html>"}}

	for _, sh := range []canvas.Shape{frame, child, prev} {
		if err := s.SaveShape("doc1", sh); err != nil {
			t.Fatalf("SaveShape(%s): %v", sh.ID, err)
		}
	}

	// 更新不改变顺序
	frame.X = 99
	if err := s.SaveShape("doc1", frame); err != nil {
		t.Fatalf("SaveShape update: %v", err)
	}

	got, err := s.LoadShapes("doc1")
	if err != nil {
		t.Fatalf("LoadShapes: %v", err)
	}
	want := []canvas.Shape{frame, child, prev}
	if len(got) != len(want) {
		t.Fatalf("got %d shapes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("shape %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	other, err := s.LoadShapes("doc2")
	if err != nil {
		t.Fatalf("LoadShapes(doc2): %v", err)
	}
	if len(other) != 0 {
		t.Errorf("doc2 has %d shapes, want 0", len(other))
	}
}

func TestDeleteShape(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveShape("doc", canvas.Shape{ID: "shape:a", Type: canvas.TypeGeo}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteShape("doc", "shape:a"); err != nil {
		t.Fatalf("DeleteShape: %v", err)
	}
	if err := s.DeleteShape("doc", "shape:a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	if err := (Persister{Store: s}).DeleteShape("doc", "shape:a"); err != nil {
		t.Errorf("persister delete of missing shape = %v, want nil", err)
	}
}

func TestListDocuments(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "a"} {
		if err := s.EnsureDocument(id); err != nil {
			t.Fatalf("EnsureDocument(%s): %v", id, err)
		}
	}
	docs, err := s.ListDocuments()
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}
}

func TestGenerations(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if _, err := s.RecordGeneration(Generation{DocumentID: "doc", ShapeID: "shape:1", Status: "committed", CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	g, err := s.RecordGeneration(Generation{DocumentID: "doc", ShapeID: "shape:2", Status: "failed",
		Error: "Rate limit reached...", CreatedAt: base.Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if g.ID == "" {
		t.Error("generation id not assigned")
	}

	list, err := s.ListGenerations("doc", 0)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d generations, want 2", len(list))
	}
	if list[0].ShapeID != "shape:2" || list[0].Error != "Rate limit reached..." {
		t.Errorf("newest = %+v", list[0])
	}
	if !list[1].CreatedAt.Equal(base) {
		t.Errorf("created_at = %v, want %v", list[1].CreatedAt, base)
	}
}

// TestPersisterWiring checks that a document writes through to the store and
// can be restored from it.
func TestPersisterWiring(t *testing.T) {
	s := openTestStore(t)
	reg, err := canvas.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}

	doc := canvas.NewDocument("wire", reg, Persister{Store: s}, nil)
	sh, err := doc.CreateShape(canvas.Shape{Type: canvas.TypeNote, Props: canvas.Props{Text: "n"}})
	if err != nil {
		t.Fatalf("CreateShape: %v", err)
	}
	if _, err := doc.UpdateShape(sh.ID, func(p *canvas.Props) { p.Text = "updated" }); err != nil {
		t.Fatalf("UpdateShape: %v", err)
	}

	shapes, err := s.LoadShapes("wire")
	if err != nil {
		t.Fatal(err)
	}
	restored := canvas.NewDocument("wire", reg, nil, nil)
	if err := restored.Load(shapes); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := restored.Shape(sh.ID)
	if !ok || got.Props.Text != "updated" {
		t.Errorf("restored shape = %+v, %v", got, ok)
	}

	if err := doc.DeleteShape(sh.ID); err != nil {
		t.Fatalf("DeleteShape: %v", err)
	}
	shapes, _ = s.LoadShapes("wire")
	if len(shapes) != 0 {
		t.Errorf("got %d shapes after delete, want 0", len(shapes))
	}
}
