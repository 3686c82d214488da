package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

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
	api.GET("/medications/search", h.Search)
	api.GET("/methods", h.ListMethods)

	manage := api.Group("", auth.RequireCapability(auth.CapManageCatalog))
	manage.GET("/medications", h.List)
	manage.POST("/medications", h.Create)
	manage.GET("/medications/:sap", h.Get)
	manage.PUT("/medications/:sap", h.Update)
	manage.PUT("/medications/:sap/active", h.SetActive)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateSAP):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func paramSAP(c echo.Context) (int64, error) {
	sap, err := strconv.ParseInt(c.Param("sap"), 10, 64)
	if err != nil || sap <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid sap code")
	}
	return sap, nil
}

// medicationRequest is the create/update body: the medication plus the
// single method it is linked to.
type medicationRequest struct {
	Medication
	MethodID reexpiry.MethodID `json:"metodo_id"`
}

func (h *Handler) Search(c echo.Context) error {
	items, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListMethods(c echo.Context) error {
	items, err := h.svc.ListMethods(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Method{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Query:      c.QueryParam("q"),
		ActiveOnly: c.QueryParam("active") == "true",
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	sap, err := paramSAP(c)
	if err != nil {
		return err
	}
	m, err := h.svc.Get(c.Request().Context(), sap)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Create(c echo.Context) error {
	var req medicationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Create(c.Request().Context(), &req.Medication, req.MethodID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Update(c echo.Context) error {
	sap, err := paramSAP(c)
	if err != nil {
		return err
	}
	// Fields absent from the body keep their stored values.
	req := medicationRequest{Medication: Medication{Active: true}}
	existing, err := h.svc.Get(c.Request().Context(), sap)
	switch {
	case err == nil:
		req.Medication = *existing
		if ref, ok := existing.DefaultMethod(); ok {
			req.MethodID = ref.MethodID
		}
	case !errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.SAPCode = sap
	m, err := h.svc.Update(c.Request().Context(), &req.Medication, req.MethodID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) SetActive(c echo.Context) error {
	sap, err := paramSAP(c)
	if err != nil {
		return err
	}
	var req struct {
		Active *bool `json:"activo"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "activo is required")
	}
	if err := h.svc.SetActive(c.Request().Context(), sap, *req.Active); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
