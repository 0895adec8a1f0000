package api

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/training-stats/internal/aggregate"
	"github.com/sells-group/training-stats/internal/ingest"
	"github.com/sells-group/training-stats/internal/model"
	"github.com/sells-group/training-stats/internal/stats"
)

const (
	defaultMaxUploadMB = 50
	xlsxContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type errorBody struct {
	Error string `json:"error"`
}

// badRequest marks errors caused by the request itself.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var br badRequest
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &br):
		status = http.StatusBadRequest
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case eris.Is(err, stats.ErrNoDataset):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	render.Status(r, status)
	render.JSON(w, r, errorBody{Error: err.Error()})
}

// filterFromQuery reads year, month, institution, type, mode, basis and
// members into a validated Filter.
func filterFromQuery(q url.Values) (aggregate.Filter, error) {
	var f aggregate.Filter
	var err error
	if f.Year, err = intParam(q, "year"); err != nil {
		return f, err
	}
	if f.Month, err = intParam(q, "month"); err != nil {
		return f, err
	}
	f.Institution = strings.TrimSpace(q.Get("institution"))
	f.TrainingType = strings.TrimSpace(q.Get("type"))
	f.Mode = model.RevenueMode(q.Get("mode"))
	f.Basis = model.Basis(q.Get("basis"))
	if v := q.Get("members"); v != "" {
		if f.IncludeMembers, err = strconv.ParseBool(v); err != nil {
			return f, badRequest{msg: "members must be a boolean"}
		}
	}
	if err := f.Validate(); err != nil {
		return f, badRequest{msg: err.Error()}
	}
	return f, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest{msg: name + " must be an integer"}
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "dataset_loaded": false}
	if ds := s.svc.Dataset(); ds != nil {
		body["dataset_loaded"] = true
		body["records"] = len(ds.Records)
		body["built_at"] = ds.BuiltAt
		body["source"] = s.svc.Source()
	}
	render.JSON(w, r, body)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	dim, err := model.ParseDimension(chi.URLParam(r, "dimension"))
	if err != nil {
		writeError(w, r, badRequest{msg: err.Error()})
		return
	}
	f, err := filterFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	groups, hit, err := s.svc.Groups(r.Context(), dim, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	render.JSON(w, r, map[string]any{
		"dimension": dim,
		"filter":    f,
		"count":     len(groups),
		"groups":    groups,
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = 10
	}

	ov, err := s.svc.Overview(r.Context(), f, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ov)
}

func (s *Server) handleInstitutionGroups(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	details, err := s.svc.InstitutionDetails(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"institutions": details,
		"canonical":    s.canon.Groups(),
		"aliases":      s.canon.Aliases(),
	})
}

func (s *Server) handleHealthReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Health()
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, rep)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	maxMB := s.cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = defaultMaxUploadMB
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxMB)<<20)

	table, source, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if q := strings.TrimSpace(r.URL.Query().Get("source")); q != "" {
		source = q
	}

	res, err := s.svc.Ingest(r.Context(), source, table)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

// readUpload parses the request body as CSV, as an xlsx workbook, or as a
// multipart form carrying either in its "file" field.
func readUpload(r *http.Request) (*ingest.Table, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	sheet := r.URL.Query().Get("sheet")

	var (
		data   []byte
		source = "upload"
		isXLSX = mediaType == xlsxContentType || r.URL.Query().Get("format") == "xlsx"
		err    error
	)

	if mediaType == "multipart/form-data" {
		file, hdr, ferr := r.FormFile("file")
		if ferr != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(ferr, &tooLarge) {
				return nil, "", ferr
			}
			return nil, "", badRequest{msg: "multipart upload needs a file field"}
		}
		defer file.Close() //nolint:errcheck
		source = hdr.Filename
		isXLSX = isXLSX || strings.EqualFold(filepath.Ext(hdr.Filename), ".xlsx")
		data, err = io.ReadAll(file)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", err
		}
		return nil, "", eris.Wrap(err, "api: read upload")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", badRequest{msg: "empty upload"}
	}

	var table *ingest.Table
	if isXLSX {
		table, err = ingest.ReadXLSXBytes(data, sheet)
	} else {
		table, err = ingest.ReadCSV(bytes.NewReader(data))
	}
	if err != nil {
		return nil, "", badRequest{msg: err.Error()}
	}
	return table, source, nil
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	var dim model.Dimension
	if v := r.URL.Query().Get("dimension"); v != "" {
		d, err := model.ParseDimension(v)
		if err != nil {
			writeError(w, r, badRequest{msg: err.Error()})
			return
		}
		dim = d
	}
	n, err := s.svc.InvalidateCache(r.Context(), dim)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"invalidated": n, "dimension": dim})
}
