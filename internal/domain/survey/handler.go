package survey

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/intake/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the editor surface on the given group.
func (h *Handler) RegisterRoutes(editor *echo.Group) {
	editor.GET("/surveys", h.ListSurveys)
	editor.GET("/surveys/:id", h.GetSurvey)
	editor.POST("/surveys", h.CreateSurvey)
	editor.PUT("/surveys/:id", h.UpdateSurvey)
	editor.DELETE("/surveys/:id", h.DeleteSurvey)
	editor.POST("/surveys/:id/validate", h.ValidateSurvey)
	editor.POST("/validate-structure", h.ValidateStructure)
	editor.POST("/surveys/:id/duplicate", h.DuplicateSurvey)
	editor.POST("/surveys/:id/export", h.ExportSurvey)
	editor.POST("/surveys/import", h.ImportSurvey)
	editor.GET("/node-types", h.NodeTypes)
}

func surveyID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid survey id")
	}
	return id, nil
}

// mapError translates service errors onto the editor's HTTP contract.
// Validation failures come back as a 400 carrying the full result.
func mapError(c echo.Context, err error) error {
	var inv *InvalidGraphError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "survey not found")
	case errors.As(err, &inv):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "survey structure contains errors",
			"errors":  inv.Result.Errors,
		})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) ListSurveys(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly, _ := strconv.ParseBool(c.QueryParam("active_only"))
	items, total, err := h.svc.List(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(c, err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Path())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetSurvey(c echo.Context) error {
	id, err := surveyID(c)
	if err != nil {
		return err
	}
	cfg, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) CreateSurvey(c echo.Context) error {
	doc, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	cfg, err := h.svc.Create(c.Request().Context(), doc)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusCreated, cfg)
}

func (h *Handler) UpdateSurvey(c echo.Context) error {
	id, err := surveyID(c)
	if err != nil {
		return err
	}
	doc, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	cfg, err := h.svc.Update(c.Request().Context(), id, doc)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) DeleteSurvey(c echo.Context) error {
	id, err := surveyID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ValidateSurvey(c echo.Context) error {
	id, err := surveyID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Validate(c.Request().Context(), id)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ValidateStructure validates a configuration document without storing
// it, for live feedback while editing.
func (h *Handler) ValidateStructure(c echo.Context) error {
	doc, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	return c.JSON(http.StatusOK, h.svc.ValidateDocument(doc))
}

func (h *Handler) DuplicateSurvey(c echo.Context) error {
	id, err := surveyID(c)
	if err != nil {
		return err
	}
	cfg, err := h.svc.Duplicate(c.Request().Context(), id, c.QueryParam("new_name"))
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusCreated, cfg)
}

func (h *Handler) ExportSurvey(c echo.Context) error {
	id, err := surveyID(c)
	if err != nil {
		return err
	}
	env, err := h.svc.Export(c.Request().Context(), id, time.Now())
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, env)
}

func (h *Handler) ImportSurvey(c echo.Context) error {
	doc, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	cfg, err := h.svc.Import(c.Request().Context(), doc)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusCreated, cfg)
}

func (h *Handler) NodeTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, NodeTypes())
}
