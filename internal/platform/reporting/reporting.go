// Package reporting exports the repackaging history as CSV and aggregates
// produced units per day and per technician.
package reporting

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/reenvasado/reenvasado/internal/platform/auth"
)

// ErrNoRecords is returned when an export would be empty.
var ErrNoRecords = errors.New("no records to export")

const (
	dateLayout      = "2006-01-02"
	unknownUser     = "S/N"
	pendingApproval = "Pendiente"
	bom             = "\ufeff"
)

// Header is the first row of every history export.
var Header = []string{
	"ID", "Fecha", "Hora", "SAP", "Medicamento", "Método", "Técnico", "Lote",
	"Cad. Original", "Cad. Reenvasado", "Cant. Inicial", "Cant. Final", "Estado",
	"MARCA/CN/OBSERVACIONES", "Validado Por",
}

// Record is one enriched repackaging activity as it appears in reports.
type Record struct {
	ID             int64
	RecordedAt     time.Time
	SAPCode        int64
	MedicationName string
	MethodName     string
	TechnicianName string
	Batch          string
	OriginalExpiry time.Time
	Reexpiry       time.Time
	Quantity       int
	FinalQuantity  int
	Status         string
	Notes          string
	// ValidatorName is empty while the activity awaits validation.
	ValidatorName string
}

// Query selects the records of a report. Zero values do not filter.
type Query struct {
	Status   string
	MethodID int
	Text     string
	From     *time.Time
	To       *time.Time
}

// Source provides report records, newest first.
type Source interface {
	ReportRecords(ctx context.Context, q Query) ([]Record, error)
}

// FileName is the download name of an export generated at now.
func FileName(now time.Time) string {
	return "Reporte_HUCA_" + now.Format(dateLayout) + ".csv"
}

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", " ")
}

// WriteCSV writes records as a UTF-8 CSV with a byte order mark so
// spreadsheet tools detect the encoding. Timestamps are rendered in loc.
func WriteCSV(w io.Writer, records []Record, loc *time.Location) error {
	if len(records) == 0 {
		return ErrNoRecords
	}
	if loc == nil {
		loc = time.UTC
	}
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		at := r.RecordedAt.In(loc)
		validator := r.ValidatorName
		if validator == "" {
			validator = pendingApproval
		}
		row := []string{
			strconv.FormatInt(r.ID, 10),
			at.Format("02/01/2006"),
			at.Format("15:04:05"),
			strconv.FormatInt(r.SAPCode, 10),
			stripCommas(r.MedicationName),
			r.MethodName,
			r.TechnicianName,
			r.Batch,
			r.OriginalExpiry.Format(dateLayout),
			r.Reexpiry.Format(dateLayout),
			strconv.Itoa(r.Quantity),
			strconv.Itoa(r.FinalQuantity),
			r.Status,
			stripCommas(r.Notes),
			validator,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Bucket is a named total of produced units.
type Bucket struct {
	Name  string `json:"nombre"`
	Units int    `json:"unidades"`
}

// Summary aggregates final quantities.
type Summary struct {
	Total  int      `json:"total"`
	ByDay  []Bucket `json:"fecha"`
	ByUser []Bucket `json:"usuario"`
}

type accumulator struct {
	index   map[string]int
	buckets []Bucket
}

func (a *accumulator) add(name string, units int) {
	if a.index == nil {
		a.index = make(map[string]int)
	}
	i, ok := a.index[name]
	if !ok {
		i = len(a.buckets)
		a.index[name] = i
		a.buckets = append(a.buckets, Bucket{Name: name})
	}
	a.buckets[i].Units += units
}

func (a *accumulator) result() []Bucket {
	if a.buckets == nil {
		return []Bucket{}
	}
	return a.buckets
}

// Summarize totals final quantities overall, per day (dd/mm in loc) and per
// technician. Buckets keep the order in which they first appear.
func Summarize(records []Record, loc *time.Location) Summary {
	if loc == nil {
		loc = time.UTC
	}
	var days, users accumulator
	var s Summary
	for _, r := range records {
		units := r.FinalQuantity
		s.Total += units
		days.add(r.RecordedAt.In(loc).Format("02/01"), units)
		name := r.TechnicianName
		if name == "" {
			name = unknownUser
		}
		users.add(name, units)
	}
	s.ByDay = days.result()
	s.ByUser = users.result()
	return s
}

// Handler serves the export and statistics endpoints.
type Handler struct {
	src Source
	loc *time.Location
	now func() time.Time
}

// NewHandler creates a reporting handler rendering dates in loc.
func NewHandler(src Source, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{src: src, loc: loc, now: time.Now}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")
	g.GET("/history.csv", h.ExportHistory, auth.RequireCapability(auth.CapViewHistory))
	g.GET("/stats", h.Stats, auth.RequireCapability(auth.CapViewStats))
}

// parseQuery reads the history filters. from is inclusive from midnight, to
// is inclusive through 23:59:59 of its day.
func (h *Handler) parseQuery(c echo.Context) (Query, error) {
	q := Query{
		Status: c.QueryParam("estado"),
		Text:   c.QueryParam("q"),
	}
	if q.Status == "todos" {
		q.Status = ""
	}
	if m := c.QueryParam("metodo"); m != "" {
		id, err := strconv.Atoi(m)
		if err != nil {
			return Query{}, fmt.Errorf("invalid metodo %q", m)
		}
		q.MethodID = id
	}
	if s := c.QueryParam("from"); s != "" {
		d, err := time.ParseInLocation(dateLayout, s, h.loc)
		if err != nil {
			return Query{}, fmt.Errorf("invalid from date %q", s)
		}
		q.From = &d
	}
	if s := c.QueryParam("to"); s != "" {
		d, err := time.ParseInLocation(dateLayout, s, h.loc)
		if err != nil {
			return Query{}, fmt.Errorf("invalid to date %q", s)
		}
		end := d.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		q.To = &end
	}
	return q, nil
}

// ExportHistory streams the filtered history as a CSV attachment.
func (h *Handler) ExportHistory(c echo.Context) error {
	q, err := h.parseQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	records, err := h.src.ReportRecords(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(records) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, ErrNoRecords.Error())
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	resp.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, FileName(h.now().In(h.loc))))
	resp.WriteHeader(http.StatusOK)
	return WriteCSV(resp, records, h.loc)
}

// Stats returns the production summary for the filtered history.
func (h *Handler) Stats(c echo.Context) error {
	q, err := h.parseQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	records, err := h.src.ReportRecords(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, Summarize(records, h.loc))
}
