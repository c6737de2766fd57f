package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bmds-online/bmds/internal/analysis"
	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/schema"
	"github.com/bmds-online/bmds/internal/store"
	"github.com/bmds-online/bmds/internal/validate"
)

const (
	msgForbidden    = "You do not have permission to perform this action."
	msgDataRequired = "A `data` object is required"
)

// errBadRequest marks client errors whose message is safe to return.
type errBadRequest struct{ msg string }

func (e *errBadRequest) Error() string { return e.msg }

func badRequest(msg string) error { return &errBadRequest{msg: msg} }

var errDataRequired = eris.New(msgDataRequired)

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			writeError(w, r, err)
		}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *validate.Error
		merr  *schema.MigrationError
		moerr *engine.ModelError
		breq  *errBadRequest
		mbe   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		b, _ := json.Marshal(verr)
		writeJSON(w, http.StatusBadRequest, []string{string(b)})
	case errors.Is(err, errDataRequired):
		writeJSON(w, http.StatusBadRequest, []string{msgDataRequired})
	case errors.Is(err, analysis.ErrForbidden):
		writeDetail(w, http.StatusForbidden, msgForbidden)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, analysis.ErrSessionNotFound):
		writeDetail(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, analysis.ErrExecuting):
		writeDetail(w, http.StatusConflict, "Analysis is currently executing.")
	case errors.Is(err, analysis.ErrNotExecuted):
		writeDetail(w, http.StatusBadRequest, "Analysis has not been executed.")
	case errors.As(err, &merr):
		writeDetail(w, http.StatusBadRequest, merr.Kind.Error())
	case errors.As(err, &moerr):
		writeDetail(w, http.StatusBadRequest, moerr.Detail)
	case errors.As(err, &mbe):
		writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large.")
	case errors.As(err, &breq):
		writeDetail(w, http.StatusBadRequest, breq.msg)
	default:
		zap.L().Error("server: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeDetail(w, http.StatusInternalServerError, "A server error occurred.")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeFile(w http.ResponseWriter, contentType, filename string, b []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(b) //nolint:errcheck
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return badRequest("JSON parse error - " + err.Error())
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
