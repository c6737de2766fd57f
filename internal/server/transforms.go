package server

import (
	"net/http"

	"github.com/bmds-online/bmds/internal/report"
	"github.com/bmds-online/bmds/internal/transforms"
)

type polyKResponse struct {
	Adjusted []transforms.PolyKRow     `json:"df"`
	Summary  []transforms.PolyKSummary `json:"df2"`
}

func (s *Server) polyK(r *http.Request) (*transforms.PolyKResult, error) {
	var in transforms.PolyKInput
	if err := decode(r, &in); err != nil {
		return nil, err
	}
	return transforms.PolyK(r.Context(), in)
}

func (s *Server) handlePolyK(w http.ResponseWriter, r *http.Request) error {
	res, err := s.polyK(r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, polyKResponse{Adjusted: res.Adjusted, Summary: res.Summary})
	return nil
}

func (s *Server) handlePolyKExcel(w http.ResponseWriter, r *http.Request) error {
	res, err := s.polyK(r)
	if err != nil {
		return err
	}
	b, err := report.PolyK(res)
	if err != nil {
		return err
	}
	writeFile(w, xlsxContentType, "polyk.xlsx", b)
	return nil
}

func (s *Server) handleRaoScott(w http.ResponseWriter, r *http.Request) error {
	var in transforms.RaoScottInput
	if err := decode(r, &in); err != nil {
		return err
	}
	res, err := transforms.RaoScott(r.Context(), s.engine, in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (s *Server) handleRaoScottExcel(w http.ResponseWriter, r *http.Request) error {
	var in transforms.RaoScottInput
	if err := decode(r, &in); err != nil {
		return err
	}
	res, err := transforms.RaoScott(r.Context(), s.engine, in)
	if err != nil {
		return err
	}
	b, err := report.RaoScott(res)
	if err != nil {
		return err
	}
	writeFile(w, xlsxContentType, "rao-scott.xlsx", b)
	return nil
}
