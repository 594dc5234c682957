package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abdusco/shorty/internal"
	"github.com/abdusco/shorty/internal/auth"
	"github.com/abdusco/shorty/internal/qr"
	"github.com/abdusco/shorty/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type LinkService interface {
	Create(ctx context.Context, userID string, in service.CreateLinkInput) (*internal.Link, error)
	Get(ctx context.Context, slug string) (*internal.Link, error)
	List(ctx context.Context, userID string) ([]*internal.Link, error)
	Resolve(ctx context.Context, slug string, preview bool, meta service.VisitMeta) (*internal.Resolution, error)
	Update(ctx context.Context, userID, slug string, in service.UpdateLinkInput) (*internal.Link, error)
	Delete(ctx context.Context, userID, slug string) error
	Analytics(ctx context.Context, slug string) (*internal.Analytics, error)
}

type LinkHandler struct {
	links   LinkService
	baseURL string
	now     func() time.Time
}

// NewLinkHandler builds the handler. baseURL prefixes short links in
// responses; when empty it is derived from the request.
func NewLinkHandler(links LinkService, baseURL string) *LinkHandler {
	return &LinkHandler{
		links:   links,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

type LinkResponse struct {
	ID        int64      `json:"id"`
	Slug      string     `json:"slug"`
	ShortURL  string     `json:"short_url"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	Expired   bool       `json:"expired"`
	Clicks    int64      `json:"clicks"`
	LastClick *time.Time `json:"last_clicked_at"`
}

// API Response wrappers
type LinkEnvelope struct {
	Link LinkResponse `json:"link"`
}

type ListLinksResponse struct {
	Links []LinkResponse `json:"links"`
}

type ExpiredResponse struct {
	Error     string    `json:"error"`
	ExpiredAt time.Time `json:"expired_at"`
}

type QRCodeResponse struct {
	QRCode   string `json:"qr_code"`
	ShortURL string `json:"short_url"`
}

func (h *LinkHandler) CreateLink(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	link, err := h.links.Create(ctx, auth.UserID(c), service.CreateLinkInput{
		URL:       req.URL,
		Alias:     req.Alias,
		ExpiresIn: string(req.ExpiresIn),
	})
	if err != nil {
		return toHTTPError(c, err)
	}

	return c.JSON(http.StatusCreated, LinkEnvelope{Link: h.toResponse(c, link)})
}

func (h *LinkHandler) ListLinks(c echo.Context) error {
	ctx := c.Request().Context()

	links, err := h.links.List(ctx, auth.UserID(c))
	if err != nil {
		return toHTTPError(c, err)
	}

	linksResponses := lo.Map(links, func(link *internal.Link, _ int) LinkResponse {
		return h.toResponse(c, link)
	})

	return c.JSON(http.StatusOK, ListLinksResponse{Links: linksResponses})
}

func (h *LinkHandler) UpdateLink(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	var req UpdateLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	link, err := h.links.Update(ctx, auth.UserID(c), slug, service.UpdateLinkInput{
		URL:       req.URL,
		ExpiresIn: req.ExpiresIn.ptr(),
	})
	if err != nil {
		return toHTTPError(c, err)
	}

	return c.JSON(http.StatusOK, LinkEnvelope{Link: h.toResponse(c, link)})
}

func (h *LinkHandler) DeleteLink(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.links.Delete(ctx, auth.UserID(c), c.Param("slug")); err != nil {
		return toHTTPError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *LinkHandler) Analytics(c echo.Context) error {
	ctx := c.Request().Context()

	analytics, err := h.links.Analytics(ctx, c.Param("slug"))
	if err != nil {
		return toHTTPError(c, err)
	}

	return c.JSON(http.StatusOK, analytics)
}

// Redirect sends the visitor to the destination and records the visit.
// With ?preview=true it answers with the destination instead.
func (h *LinkHandler) Redirect(c echo.Context) error {
	if parseBool(c.QueryParam("preview")) {
		return h.Preview(c)
	}
	return h.resolve(c, false)
}

func (h *LinkHandler) Preview(c echo.Context) error {
	return h.resolve(c, true)
}

func (h *LinkHandler) resolve(c echo.Context, preview bool) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	log.Debug().Str("slug", slug).Bool("preview", preview).Msg("resolve request")

	res, err := h.links.Resolve(ctx, slug, preview, service.VisitMeta{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
		Referer:   c.Request().Referer(),
	})

	var expired *internal.ExpiredError
	if errors.As(err, &expired) {
		log.Info().Str("slug", slug).Time("expired_at", expired.At).Msg("expired link requested")
		return c.JSON(http.StatusGone, ExpiredResponse{
			Error:     "this link has expired",
			ExpiredAt: expired.At,
		})
	}
	if err != nil {
		return toHTTPError(c, err)
	}

	if preview {
		return c.JSON(http.StatusOK, res)
	}

	log.Info().Str("slug", slug).Str("ip", c.RealIP()).Msg("redirecting link")

	// Not 301: browsers cache permanent redirects and later visits would go unrecorded.
	return c.Redirect(http.StatusFound, res.URL)
}

// QRCode renders the short URL as a QR code, as JSON with a data URL or,
// with ?format=png, as the image itself.
func (h *LinkHandler) QRCode(c echo.Context) error {
	ctx := c.Request().Context()

	link, err := h.links.Get(ctx, c.Param("slug"))
	if err != nil {
		return toHTTPError(c, err)
	}

	shortURL := h.shortURL(c, link.Slug)
	size, _ := strconv.Atoi(c.QueryParam("size"))
	size = min(max(size, 0), 1024)

	if c.QueryParam("format") == "png" {
		png, err := qr.PNG(shortURL, size)
		if err != nil {
			return toHTTPError(c, err)
		}
		return c.Blob(http.StatusOK, "image/png", png)
	}

	dataURL, err := qr.DataURL(shortURL, size)
	if err != nil {
		return toHTTPError(c, err)
	}

	return c.JSON(http.StatusOK, QRCodeResponse{QRCode: dataURL, ShortURL: shortURL})
}

func (h *LinkHandler) shortURL(c echo.Context, slug string) string {
	base := h.baseURL
	if base == "" {
		base = c.Scheme() + "://" + c.Request().Host
	}
	return base + "/" + slug
}

func (h *LinkHandler) toResponse(c echo.Context, link *internal.Link) LinkResponse {
	resp := LinkResponse{
		ID:        link.ID,
		Slug:      link.Slug,
		ShortURL:  h.shortURL(c, link.Slug),
		URL:       link.URL,
		CreatedAt: link.CreatedAt,
		ExpiresAt: link.ExpiresAt,
		Expired:   link.ExpiredAt(h.now()),
	}
	if link.Stats != nil {
		resp.Clicks = link.Stats.Clicks
		resp.LastClick = link.Stats.LastClickedAt
	}
	return resp
}
