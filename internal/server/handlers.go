package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/query"
	"github.com/sells-group/feature-cli/internal/table"
)

// FeaturesRequest is the body of POST /v1/features.
type FeaturesRequest struct {
	Dataset      *table.Table         `json:"dataset" validate:"required"`
	Applications []ApplicationRequest `json:"applications" validate:"required,dive"`
	Queries      []model.Query        `json:"queries" validate:"required"`
}

// ApplicationRequest is one application on the wire. Both fields are
// pointers so that a missing key is told apart from a zero value.
type ApplicationRequest struct {
	CompanyID *int64 `json:"_id" validate:"required"`
	Year      *int   `json:"year" validate:"required"`
}

func (r *FeaturesRequest) applications() []model.Application {
	apps := make([]model.Application, len(r.Applications))
	for i, a := range r.Applications {
		apps[i] = model.Application{CompanyID: *a.CompanyID, Year: *a.Year}
	}
	return apps
}

// ColumnsRequest is the body of POST /v1/columns.
type ColumnsRequest struct {
	Queries []model.Query `json:"queries" validate:"required"`
}

// ColumnsResponse lists generated column names in query order.
type ColumnsResponse struct {
	Columns []string `json:"columns"`
}

type errorResponse struct {
	status    int
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *errorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.status)
	return nil
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	_ = render.Render(w, r, &errorResponse{status: status, Error: msg, RequestID: RequestIDFrom(r.Context())})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// decode reads a size-capped JSON body into dst and validates it. It writes
// the error response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			renderError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.metrics.malformed.Inc()
		renderError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.metrics.malformed.Inc()
		renderError(w, r, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	var req FeaturesRequest
	if !s.decode(w, r, &req) {
		return
	}

	out, err := s.engine.GetData(r.Context(), req.Dataset, req.applications(), req.Queries)
	if err != nil {
		s.renderEngineError(w, r, err)
		return
	}
	s.metrics.rows.Add(float64(out.Len()))

	if r.URL.Query().Get("format") == "records" {
		w.Header().Set("Content-Type", "application/json")
		if err := out.EncodeRecords(w); err != nil {
			zap.L().Error("server: write records", zap.Error(err))
		}
		return
	}
	render.JSON(w, r, out)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	var req ColumnsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := query.Validate(req.Queries); err != nil {
		s.renderEngineError(w, r, err)
		return
	}
	render.JSON(w, r, ColumnsResponse{Columns: query.Columns(req.Queries)})
}

func (s *Server) renderEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case eris.Is(err, model.ErrMalformed):
		s.metrics.malformed.Inc()
		renderError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(r.Context().Err(), context.Canceled), errors.Is(r.Context().Err(), context.DeadlineExceeded):
		renderError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		zap.L().Error("server: feature evaluation failed",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.Error(err),
		)
		renderError(w, r, http.StatusInternalServerError, "internal error")
	}
}
