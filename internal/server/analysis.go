package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/bmds-online/bmds/internal/analysis"
	"github.com/bmds-online/bmds/internal/model"
	"github.com/bmds-online/bmds/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type editRequest struct {
	EditKey string          `json:"editKey"`
	Data    json.RawMessage `json:"data"`
	Partial bool            `json:"partial"`
}

// object reports whether the data payload is a JSON object.
func (e editRequest) object() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// created is returned once, when an analysis is made; it is the only
// response carrying the edit key.
type created struct {
	model.Document
	EditKey string `json:"editKey"`
}

type summary struct {
	ID                  string     `json:"id"`
	AnalysisName        string     `json:"analysis_name"`
	AnalysisDescription string     `json:"analysis_description"`
	DatasetType         string     `json:"dataset_type"`
	Starred             bool       `json:"starred"`
	Created             time.Time  `json:"created"`
	LastUpdated         time.Time  `json:"last_updated"`
	DeletionDate        *time.Time `json:"deletion_date"`
	IsExecuting         bool       `json:"is_executing"`
	IsFinished          bool       `json:"is_finished"`
	HasErrors           bool       `json:"has_errors"`
}

func summarize(a *model.Analysis) summary {
	fields := gjson.GetManyBytes(a.Inputs, "analysis_name", "analysis_description", "dataset_type")
	return summary{
		ID:                  a.ID,
		AnalysisName:        fields[0].String(),
		AnalysisDescription: fields[1].String(),
		DatasetType:         fields[2].String(),
		Starred:             a.Starred,
		Created:             a.Created,
		LastUpdated:         a.LastUpdated,
		DeletionDate:        a.DeletionDate,
		IsExecuting:         a.IsExecuting(),
		IsFinished:          a.IsFinished(),
		HasErrors:           a.HasErrors(),
	}
}

func (s *Server) document(a *model.Analysis) model.Document {
	return a.ToDocument(s.analyses.InputsValid(a))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	filter := store.ListFilter{Search: q.Get("search")}
	if v := q.Get("starred"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest("starred must be true or false")
		}
		filter.Starred = &b
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return badRequest(name + " must be a non-negative integer")
			}
			*dst = n
		}
	}

	list, err := s.analyses.List(r.Context(), filter)
	if err != nil {
		return err
	}
	out := make([]summary, 0, len(list))
	for i := range list {
		out = append(out, summarize(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		Inputs json.RawMessage `json:"inputs"`
	}
	if err := decode(r, &body); err != nil {
		return err
	}
	a, err := s.analyses.Create(r.Context(), body.Inputs)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, created{Document: s.document(a), EditKey: a.Password})
	return nil
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) error {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	a, err := s.analyses.Import(r.Context(), b)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, created{Document: s.document(a), EditKey: a.Password})
	return nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	a, err := s.analyses.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s.document(a))
	return nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) error {
	var body editRequest
	if err := decode(r, &body); err != nil {
		return err
	}
	key := body.EditKey
	if key == "" {
		key = r.URL.Query().Get("editKey")
	}
	if err := s.analyses.Delete(r.Context(), chi.URLParam(r, "id"), key); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handlePatchInputs(w http.ResponseWriter, r *http.Request) error {
	var body editRequest
	if err := decode(r, &body); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	if _, err := s.analyses.Authorize(r.Context(), id, body.EditKey); err != nil {
		return err
	}
	if !body.object() {
		return errDataRequired
	}
	a, err := s.analyses.PatchInputs(r.Context(), id, body.EditKey, body.Data, body.Partial)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s.document(a))
	return nil
}

// keyed handles the POST actions that take only an edit key.
func (s *Server) keyed(action func(ctx context.Context, id, key string) (*model.Analysis, error)) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var body editRequest
		if err := decode(r, &body); err != nil {
			return err
		}
		a, err := action(r.Context(), chi.URLParam(r, "id"), body.EditKey)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, s.document(a))
		return nil
	}
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) error {
	var body editRequest
	if err := decode(r, &body); err != nil {
		return err
	}
	id := chi.URLParam(r, "id")
	if _, err := s.analyses.Authorize(r.Context(), id, body.EditKey); err != nil {
		return err
	}
	if !body.object() {
		return errDataRequired
	}
	var sel analysis.Selection
	if err := json.Unmarshal(body.Data, &sel); err != nil {
		return badRequest("JSON parse error - " + err.Error())
	}
	a, err := s.analyses.SelectModel(r.Context(), id, body.EditKey, sel)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s.document(a))
	return nil
}

func (s *Server) handleExcel(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	b, err := s.analyses.Excel(r.Context(), id)
	if err != nil {
		return err
	}
	writeFile(w, xlsxContentType, "bmds-"+id+".xlsx", b)
	return nil
}
