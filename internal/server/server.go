// Package server exposes the ticker over HTTP and websockets.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"price-ticker/internal/alerting"
	"price-ticker/internal/alerts"
	"price-ticker/internal/chart"
	"price-ticker/internal/market"
	"price-ticker/internal/news"
	"price-ticker/internal/observability"
	"price-ticker/internal/render"
)

// SlotSource returns the last rendered slots.
type SlotSource interface {
	Latest() (render.Slots, bool)
}

// Refresher admits manual refresh requests.
type Refresher interface {
	Trigger(ctx context.Context) bool
}

// AlertBook is the rule collection managed over the API.
type AlertBook interface {
	List() []alerts.Rule
	Add(ctx context.Context, threshold, direction string) (alerts.Rule, error)
	Delete(ctx context.Context, id int64) error
}

// ToastBoard holds visible notifications.
type ToastBoard interface {
	Active() []alerting.Toast
	Dismiss(id string) bool
}

// ChartRenderer draws a price chart for a period.
type ChartRenderer interface {
	Render(ctx context.Context, w io.Writer, period market.Period) error
}

// NewsSource returns curated articles.
type NewsSource interface {
	Articles(ctx context.Context) ([]news.Article, error)
}

// QuoteSource returns a raw upstream quote payload.
type QuoteSource interface {
	QuoteJSON(ctx context.Context) ([]byte, error)
}

// Options configure the listener.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowOrigin     string
	NewsPageSize    int
}

// Deps are the handlers' collaborators. Routes whose dependency is nil
// answer 404.
type Deps struct {
	Slots   SlotSource
	Refresh Refresher
	Alerts  AlertBook
	Toasts  ToastBoard
	Chart   ChartRenderer
	News    NewsSource
	Quote   QuoteSource
	Hub     *Hub
	Metrics *observability.Metrics
}

// Server wires the routes onto an echo instance.
type Server struct {
	opts   Options
	deps   Deps
	echo   *echo.Echo
	logger zerolog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type alertRequest struct {
	Price json.Number `json:"price" form:"price"`
	Type  string      `json:"type" form:"type"`
}

// New builds the server and registers routes.
func New(opts Options, deps Deps, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		opts:   opts,
		deps:   deps,
		echo:   e,
		logger: logger.With().Str("component", "http").Logger(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	if opts.AllowOrigin != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{opts.AllowOrigin},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		}))
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api")
	api.GET("/ticker", s.getTicker)
	api.POST("/refresh", s.postRefresh)
	api.GET("/alerts", s.listAlerts)
	api.POST("/alerts", s.addAlert)
	api.DELETE("/alerts/:id", s.deleteAlert)
	api.GET("/notifications", s.listNotifications)
	api.DELETE("/notifications/:id", s.dismissNotification)
	api.GET("/chart/:period", s.getChart)
	api.GET("/news", s.getNews)
	api.GET("/proxy/quote", s.proxyQuote)

	if s.deps.Hub != nil {
		e.GET("/ws", s.deps.Hub.ServeWS)
	}
	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := s.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	if err := s.echo.Shutdown(shCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.opts.RequestTimeout)
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found"})
}

func (s *Server) getTicker(c echo.Context) error {
	if s.deps.Slots == nil {
		return notFound(c)
	}
	slots, ok := s.deps.Slots.Latest()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no_data_yet"})
	}
	return c.JSON(http.StatusOK, slots)
}

func (s *Server) postRefresh(c echo.Context) error {
	if s.deps.Refresh == nil {
		return notFound(c)
	}
	if !s.deps.Refresh.Trigger(c.Request().Context()) {
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "refresh_dropped"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) listAlerts(c echo.Context) error {
	if s.deps.Alerts == nil {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, s.deps.Alerts.List())
}

func (s *Server) addAlert(c echo.Context) error {
	if s.deps.Alerts == nil {
		return notFound(c)
	}
	var req alertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body"})
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	rule, err := s.deps.Alerts.Add(ctx, req.Price.String(), req.Type)
	switch {
	case errors.Is(err, alerts.ErrInvalidThreshold), errors.Is(err, alerts.ErrInvalidDirection):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case err != nil:
		s.logger.Error().Err(err).Msg("add alert failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_server_error"})
	}
	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) deleteAlert(c echo.Context) error {
	if s.deps.Alerts == nil {
		return notFound(c)
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_id"})
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	switch err := s.deps.Alerts.Delete(ctx, id); {
	case errors.Is(err, alerts.ErrNotFound):
		return notFound(c)
	case err != nil:
		s.logger.Error().Err(err).Int64("alert_id", id).Msg("delete alert failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_server_error"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listNotifications(c echo.Context) error {
	if s.deps.Toasts == nil {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, s.deps.Toasts.Active())
}

func (s *Server) dismissNotification(c echo.Context) error {
	if s.deps.Toasts == nil || !s.deps.Toasts.Dismiss(c.Param("id")) {
		return notFound(c)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getChart(c echo.Context) error {
	if s.deps.Chart == nil {
		return notFound(c)
	}
	period, err := market.ParsePeriod(c.Param("period"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	var buf bytes.Buffer
	if err := s.deps.Chart.Render(ctx, &buf, period); err != nil {
		s.logger.Warn().Err(err).Str("period", string(period)).Msg("chart unavailable")
		status := http.StatusBadGateway
		if errors.Is(err, chart.ErrEmptySeries) {
			status = http.StatusServiceUnavailable
		}
		return c.HTML(status, chartErrorHTML(c.Request().URL.Path))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

func chartErrorHTML(retryPath string) string {
	return `<div class="chart-error"><p>Chart data is unavailable right now.</p>` +
		`<a class="chart-retry" href="` + html.EscapeString(retryPath) + `">Retry</a></div>`
}

func (s *Server) getNews(c echo.Context) error {
	if s.deps.News == nil {
		return notFound(c)
	}
	kind, err := news.ParseKind(c.QueryParam("kind"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_page"})
		}
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	articles, err := s.deps.News.Articles(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("news fetch failed")
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "Failed to load articles. Please try again later."})
	}
	filtered := news.Filter(articles, kind, c.QueryParam("q"))
	return c.JSON(http.StatusOK, news.Paginate(filtered, page, s.opts.NewsPageSize))
}

func (s *Server) proxyQuote(c echo.Context) error {
	if s.deps.Quote == nil {
		return notFound(c)
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	h := c.Response().Header()
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	h.Set(echo.HeaderAccessControlAllowMethods, http.MethodGet)
	h.Set(echo.HeaderCacheControl, "no-cache")

	body, err := s.deps.Quote.QuoteJSON(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("quote proxy failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to fetch data"})
	}
	return c.JSONBlob(http.StatusOK, body)
}
