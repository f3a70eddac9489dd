package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"make_real/canvas"
	"make_real/generator"
	"make_real/makereal"
	"make_real/storage"
)

const maxBodySize = 1 << 20

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{"error": fmt.Sprintf(format, args...)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) document(w http.ResponseWriter, r *http.Request) (*canvas.Document, bool) {
	doc, err := s.docs.get(chi.URLParam(r, "doc"))
	if errors.Is(err, errBadDocumentID) {
		httpError(w, http.StatusBadRequest, "%v", err)
		return nil, false
	}
	if err != nil {
		s.logger.Error("open document failed", "error", err)
		httpError(w, http.StatusInternalServerError, "could not open document")
		return nil, false
	}
	return doc, true
}

func shapeErrorStatus(err error) int {
	switch {
	case errors.Is(err, canvas.ErrShapeNotFound):
		return http.StatusNotFound
	case errors.Is(err, canvas.ErrDuplicateShape):
		return http.StatusConflict
	case errors.Is(err, canvas.ErrUnknownType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type shapesResp struct {
	Shapes []canvas.Shape `json:"shapes"`
}

func (s *Server) handleListShapes(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, shapesResp{Shapes: doc.Shapes()})
}

func (s *Server) handleCreateShape(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	var req canvas.Shape
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid shape: %v", err)
		return
	}
	shape, err := doc.CreateShape(req)
	if err != nil {
		httpError(w, shapeErrorStatus(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, shape)
}

// patchShapeReq moves a shape and/or merges props. Props fields absent from
// the body keep their current values.
type patchShapeReq struct {
	X     *float64        `json:"x"`
	Y     *float64        `json:"y"`
	Props json.RawMessage `json:"props"`
}

// mergeProps decodes raw over cur.
func mergeProps(cur canvas.Props, raw json.RawMessage) (canvas.Props, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cur); err != nil {
		return canvas.Props{}, err
	}
	return cur, nil
}

func (s *Server) handlePatchShape(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	id := canvas.ShapeID(chi.URLParam(r, "id"))
	var req patchShapeReq
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid patch: %v", err)
		return
	}
	cur, found := doc.Shape(id)
	if !found {
		httpError(w, http.StatusNotFound, "shape %s not found", id)
		return
	}

	var next canvas.Props
	hasProps := len(req.Props) > 0 && string(req.Props) != "null"
	if hasProps {
		merged, err := mergeProps(cur.Props, req.Props)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid props: %v", err)
			return
		}
		next = merged
	}

	var err error
	if req.X != nil || req.Y != nil {
		x, y := cur.X, cur.Y
		if req.X != nil {
			x = *req.X
		}
		if req.Y != nil {
			y = *req.Y
		}
		cur, err = doc.MoveShape(id, x, y, 0, 0)
	}
	if err == nil && hasProps {
		cur, err = doc.UpdateShape(id, func(p *canvas.Props) { *p = next })
	}
	if err != nil {
		httpError(w, shapeErrorStatus(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (s *Server) handleDeleteShape(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	if err := doc.DeleteShape(canvas.ShapeID(chi.URLParam(r, "id"))); err != nil {
		httpError(w, shapeErrorStatus(err), "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenderShape(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	shape, found := doc.Shape(canvas.ShapeID(chi.URLParam(r, "id")))
	if !found {
		httpError(w, http.StatusNotFound, "shape not found")
		return
	}
	if shape.Type != canvas.TypeResponse {
		httpError(w, http.StatusBadRequest, "shape %s is not a preview", shape.ID)
		return
	}
	fragment, err := s.deps.Preview.Render(&shape, r.URL.Query().Get("editing") == "1")
	if err != nil {
		s.logger.Error("render preview failed", "shape", shape.ID, "error", err)
		httpError(w, http.StatusInternalServerError, "could not render preview")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(fragment))
}

type makeRealReq struct {
	Selection []canvas.ShapeID `json:"selection"`
	APIKey    string           `json:"api_key,omitempty"`
	DarkMode  bool             `json:"dark_mode,omitempty"`
}

type makeRealResp struct {
	ShapeID canvas.ShapeID `json:"shape_id"`
	Shape   canvas.Shape   `json:"shape"`
}

type makeRealErrResp struct {
	Error      string        `json:"error"`
	Toast      *canvas.Toast `json:"toast,omitempty"`
	DetailHTML string        `json:"detail_html,omitempty"`
}

func (s *Server) handleMakeReal(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		httpError(w, http.StatusTooManyRequests, "too many requests, try again in a minute")
		return
	}
	var req makeRealReq
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request: %v", err)
		return
	}

	// toast 随响应返回，由浏览器端展示
	editor := canvas.NewEditor(doc, s.deps.Raster,
		canvas.WithSelection(req.Selection...),
		canvas.WithPreferences(canvas.Preferences{IsDarkMode: req.DarkMode}),
	)

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RequestTimeout)
	defer cancel()
	id, err := s.deps.Pipeline.Run(ctx, editor, makereal.Settings{APIKey: req.APIKey})
	s.recordGeneration(doc.ID, id, err)
	if err != nil {
		toast := makereal.ErrorToast(err)
		s.logger.Warn("make real failed", "doc", doc.ID, "error", err)
		writeJSON(w, makeRealStatus(err), makeRealErrResp{
			Error:      err.Error(),
			Toast:      &toast,
			DetailHTML: s.detailHTML(err),
		})
		return
	}

	shape, _ := doc.Shape(id)
	s.logger.Info("make real committed", "doc", doc.ID, "shape", id)
	writeJSON(w, http.StatusOK, makeRealResp{ShapeID: id, Shape: shape})
}

// makeRealStatus maps pipeline failures to HTTP status codes.
func makeRealStatus(err error) int {
	var (
		provider  *generator.ProviderError
		transport *generator.TransportError
		content   *generator.ContentError
	)
	switch {
	case makereal.IsPrecondition(err):
		return http.StatusBadRequest
	case errors.As(err, &content):
		return http.StatusUnprocessableEntity
	case errors.As(err, &provider), errors.As(err, &transport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// detailHTML renders the model's prose reply when it did not contain a
// document. goldmark drops raw HTML by default, so the reply cannot inject
// markup into the client.
func (s *Server) detailHTML(err error) string {
	var content *generator.ContentError
	if !errors.As(err, &content) || strings.TrimSpace(content.Raw) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(content.Raw), &buf); err != nil {
		s.logger.Warn("render model reply failed", "error", err)
		return ""
	}
	return buf.String()
}

func (s *Server) recordGeneration(docID string, id canvas.ShapeID, runErr error) {
	if s.deps.Store == nil {
		return
	}
	g := storage.Generation{DocumentID: docID, ShapeID: string(id), Status: "committed"}
	if runErr != nil {
		g.Status = "failed"
		g.Error = runErr.Error()
	}
	if _, err := s.deps.Store.RecordGeneration(g); err != nil {
		s.logger.Warn("record generation failed", "doc", docID, "error", err)
	}
}

type generationsResp struct {
	Generations []storage.Generation `json:"generations"`
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc")
	if !docIDPattern.MatchString(docID) {
		httpError(w, http.StatusBadRequest, "%v", errBadDocumentID)
		return
	}
	resp := generationsResp{Generations: []storage.Generation{}}
	if s.deps.Store != nil {
		list, err := s.deps.Store.ListGenerations(docID, 50)
		if err != nil {
			s.logger.Error("list generations failed", "doc", docID, "error", err)
			httpError(w, http.StatusInternalServerError, "could not list generations")
			return
		}
		if list != nil {
			resp.Generations = list
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// exportIDs reads ?ids=a,b; empty means every top-level shape.
func exportIDs(r *http.Request, doc *canvas.Document) []canvas.ShapeID {
	var ids []canvas.ShapeID
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, canvas.ShapeID(id))
			}
		}
		return ids
	}
	for _, sh := range doc.Shapes() {
		if sh.ParentID == "" {
			ids = append(ids, sh.ID)
		}
	}
	return ids
}

func (s *Server) handleExportSVG(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	svg, _, err := doc.SVG(r.Context(), exportIDs(r, doc), canvas.SVGOptions{
		Background: r.URL.Query().Get("background") != "0",
		DarkMode:   r.URL.Query().Get("dark") == "1",
		Padding:    32,
	})
	if err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = w.Write([]byte(svg))
}

func (s *Server) handleExportImage(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.document(w, r)
	if !ok {
		return
	}
	if s.deps.Raster == nil {
		httpError(w, http.StatusServiceUnavailable, "rasterizer not configured")
		return
	}
	editor := canvas.NewEditor(doc, s.deps.Raster,
		canvas.WithPreferences(canvas.Preferences{IsDarkMode: r.URL.Query().Get("dark") == "1"}))
	var shapes []canvas.Shape
	for _, id := range exportIDs(r, doc) {
		if sh, found := doc.Shape(id); found {
			shapes = append(shapes, sh)
		}
	}
	if len(shapes) == 0 {
		httpError(w, http.StatusNotFound, "nothing to export")
		return
	}
	format := canvas.FormatPNG
	if r.URL.Query().Get("format") == "jpeg" {
		format = canvas.FormatJPEG
	}
	img, err := editor.ToImage(r.Context(), shapes, canvas.ImageOptions{Scale: 1, Format: format, Background: true})
	if err != nil {
		s.logger.Error("export image failed", "doc", doc.ID, "error", err)
		httpError(w, http.StatusInternalServerError, "could not export image")
		return
	}
	w.Header().Set("Content-Type", "image/"+string(img.Format))
	_, _ = w.Write(img.Data)
}
