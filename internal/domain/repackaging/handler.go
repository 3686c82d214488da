package repackaging

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reenvasado/reenvasado/internal/domain/catalog"
	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/platform/auth"
	"github.com/reenvasado/reenvasado/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/reexpiry/suggest", h.SuggestExpiry)
	api.POST("/reexpiry/validate", h.CheckReexpiry)

	api.GET("/tasks", h.ListTasks, auth.RequireCapability(auth.CapExecuteTask))
	api.POST("/tasks", h.AssignTask, auth.RequireCapability(auth.CapAssignTask))
	api.DELETE("/tasks/:id", h.DeleteTask, auth.RequireCapability(auth.CapDeleteTask))

	api.POST("/activities", h.RecordActivity, auth.RequireCapability(auth.CapExecuteTask))
	api.GET("/activities", h.History, auth.RequireCapability(auth.CapViewHistory))
	api.PUT("/activities/:id/validate", h.ValidateActivity, auth.RequireCapability(auth.CapValidateActivity))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrActivityNotFound), errors.Is(err, catalog.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTaskNotPending), errors.Is(err, ErrAlreadyValidated), errors.Is(err, ErrMedicationInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrReexpiryAfterOriginal), errors.Is(err, catalog.ErrUnknownMethod):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// callerID returns the authenticated user id, or nil when the identity is
// not a profile id.
func callerID(c echo.Context) *uuid.UUID {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return nil
	}
	return &id
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := reexpiry.ParseDate(s)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+field+": expected YYYY-MM-DD")
	}
	return d, nil
}

func parseOptionalDate(field string, s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	d, err := reexpiry.ParseDate(*s)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+field+": expected YYYY-MM-DD")
	}
	return &d, nil
}

// -- Tasks --

type assignRequest struct {
	SAPCode  int64  `json:"codigo_sap"`
	Quantity int    `json:"cantidad_solicitada"`
	Priority string `json:"prioridad"`
}

func (h *Handler) AssignTask(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.AssignTask(c.Request().Context(), req.SAPCode, req.Quantity, priority, callerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTasks(c echo.Context) error {
	items, err := h.svc.ListPendingTasks(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteTask(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTask(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Re-expiry --

type suggestRequest struct {
	OriginalExpiry string            `json:"original_expiry"`
	MethodID       reexpiry.MethodID `json:"method_id"`
}

type suggestResponse struct {
	Suggested bool   `json:"suggested"`
	NewExpiry string `json:"new_expiry,omitempty"`
	Months    int    `json:"months"`
	Class     string `json:"class"`
}

func (h *Handler) SuggestExpiry(c echo.Context) error {
	var req suggestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	original, err := parseDate("original_expiry", req.OriginalExpiry)
	if err != nil {
		return err
	}
	sug := h.svc.SuggestExpiry(original, req.MethodID)
	resp := suggestResponse{Suggested: sug.OK, Months: sug.Months, Class: sug.Class.String()}
	if sug.OK {
		resp.NewExpiry = sug.NewExpiry.Format(reexpiry.DateLayout)
	}
	return c.JSON(http.StatusOK, resp)
}

type checkRequest struct {
	OriginalExpiry string `json:"original_expiry"`
	Reexpiry       string `json:"reexpiry"`
}

func (h *Handler) CheckReexpiry(c echo.Context) error {
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OriginalExpiry == "" || req.Reexpiry == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "original_expiry and reexpiry are required")
	}
	original, err := parseDate("original_expiry", req.OriginalExpiry)
	if err != nil {
		return err
	}
	re, err := parseDate("reexpiry", req.Reexpiry)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": reexpiry.IsReexpiryValid(original, re)})
}

// -- Activities --

type activityRequest struct {
	TaskID         *int64            `json:"tarea_id"`
	SAPCode        int64             `json:"codigo_sap"`
	MethodID       reexpiry.MethodID `json:"metodo_id"`
	Quantity       int               `json:"cantidad"`
	FinalQuantity  int               `json:"cantidad_final"`
	Batch          string            `json:"lote_original"`
	OriginalExpiry string            `json:"caducidad_original"`
	Reexpiry       string            `json:"caducidad_reenvasado"`
	Notes          string            `json:"incidencias"`
}

func (h *Handler) RecordActivity(c echo.Context) error {
	var req activityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	original, err := parseDate("caducidad_original", req.OriginalExpiry)
	if err != nil {
		return err
	}
	re, err := parseDate("caducidad_reenvasado", req.Reexpiry)
	if err != nil {
		return err
	}
	a, err := h.svc.RecordActivity(c.Request().Context(), ActivityInput{
		TaskID:         req.TaskID,
		SAPCode:        req.SAPCode,
		MethodID:       req.MethodID,
		Quantity:       req.Quantity,
		FinalQuantity:  req.FinalQuantity,
		Batch:          req.Batch,
		OriginalExpiry: original,
		Reexpiry:       re,
		Notes:          req.Notes,
	}, callerID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type validateRequest struct {
	FinalQuantity  *int    `json:"cantidad_final"`
	Batch          *string `json:"lote_original"`
	OriginalExpiry *string `json:"caducidad_original"`
	Reexpiry       *string `json:"caducidad_reenvasado"`
	Notes          *string `json:"incidencias"`
}

func (h *Handler) ValidateActivity(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	validator := callerID(c)
	if validator == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
	}
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	edits := ValidationEdits{
		FinalQuantity: req.FinalQuantity,
		Batch:         req.Batch,
		Notes:         req.Notes,
	}
	if edits.OriginalExpiry, err = parseOptionalDate("caducidad_original", req.OriginalExpiry); err != nil {
		return err
	}
	if edits.Reexpiry, err = parseOptionalDate("caducidad_reenvasado", req.Reexpiry); err != nil {
		return err
	}
	a, err := h.svc.ValidateActivity(c.Request().Context(), id, edits, *validator)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// History lists enriched activities. Filters: estado (todos, pendiente,
// validado), metodo, q, from and to (inclusive, YYYY-MM-DD).
func (h *Handler) History(c echo.Context) error {
	f := HistoryFilter{Text: c.QueryParam("q")}
	switch st := c.QueryParam("estado"); st {
	case "", "todos":
	case string(ActivityPending), string(ActivityValidated):
		f.Status = ActivityStatus(st)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid estado")
	}
	if m := c.QueryParam("metodo"); m != "" {
		id, err := strconv.Atoi(m)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid metodo")
		}
		f.MethodID = reexpiry.MethodID(id)
	}
	if s := c.QueryParam("from"); s != "" {
		d, err := parseDate("from", s)
		if err != nil {
			return err
		}
		f.From = &d
	}
	if s := c.QueryParam("to"); s != "" {
		d, err := parseDate("to", s)
		if err != nil {
			return err
		}
		end := d.Add(24*time.Hour - time.Second)
		f.To = &end
	}

	items, err := h.svc.History(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	pg := pagination.FromContext(c)
	start, end := pg.Window(len(items))
	return c.JSON(http.StatusOK, pagination.NewResponse(items[start:end], len(items), pg.Limit, pg.Offset))
}
