package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
	"github.com/StefanoGaspardone/quickshow/internal/model"
	"github.com/StefanoGaspardone/quickshow/internal/repository"
)

type ShowCatalog interface {
	Create(ctx context.Context, s *model.Show) error
	GetByID(ctx context.Context, id uint64) (*model.Show, error)
	List(ctx context.Context) ([]model.Show, error)
	ListUpcoming(ctx context.Context, from time.Time) ([]model.Show, error)
}

// ShowHandler serves the public catalog and the admin show console.
type ShowHandler struct {
	Shows ShowCatalog
	Clock clock.Clock
}

func NewShowHandler(shows ShowCatalog, clk clock.Clock) *ShowHandler {
	return &ShowHandler{Shows: shows, Clock: clk}
}

type showResp struct {
	ID            uint64    `json:"id"`
	Title         string    `json:"title"`
	StartsAt      time.Time `json:"startsAt"`
	PriceCents    uint32    `json:"priceCents"`
	OccupiedCount *int      `json:"occupiedCount,omitempty"`
}

func toShowResp(s model.Show, withOccupancy bool) showResp {
	out := showResp{ID: s.ID, Title: s.Title, StartsAt: s.StartsAt, PriceCents: s.PriceCents}
	if withOccupancy {
		n := len(s.Occupied)
		out.OccupiedCount = &n
	}
	return out
}

// ListUpcoming handles GET /v1/shows. Occupancy is left out because the
// response is cacheable.
func (h *ShowHandler) ListUpcoming(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	shows, err := h.Shows.ListUpcoming(ctx, h.Clock.Now())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list shows"})
	}
	out := make([]showResp, 0, len(shows))
	for _, s := range shows {
		out = append(out, toShowResp(s, false))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "shows": out})
}

// Get handles GET /v1/shows/:id.
func (h *ShowHandler) Get(c echo.Context) error {
	id, ok := parseShowID(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	s, err := h.Shows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrShowNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load show"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "show": toShowResp(*s, false)})
}

type createShowReq struct {
	Title      string `json:"title"`
	StartsAt   string `json:"startsAt"`
	PriceCents uint32 `json:"priceCents"`
}

// Create handles POST /v1/admin/shows.
func (h *ShowHandler) Create(c echo.Context) error {
	var req createShowReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || len(req.Title) > 255 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title is required (max 255 chars)"})
	}
	startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartsAt))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "startsAt must be RFC3339"})
	}
	if !startsAt.After(h.Clock.Now()) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "startsAt must be in the future"})
	}
	if req.PriceCents == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "priceCents must be positive"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	s := &model.Show{Title: req.Title, StartsAt: startsAt.UTC(), PriceCents: req.PriceCents}
	if err := h.Shows.Create(ctx, s); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create show"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "show": toShowResp(*s, true)})
}

// ListAll handles GET /v1/admin/shows, past shows included.
func (h *ShowHandler) ListAll(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	shows, err := h.Shows.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list shows"})
	}
	out := make([]showResp, 0, len(shows))
	for _, s := range shows {
		out = append(out, toShowResp(s, true))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "shows": out})
}
