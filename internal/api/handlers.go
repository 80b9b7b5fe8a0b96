package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/runner"
)

const (
	defaultListingsLimit = 100
	defaultSearchLimit   = 10
)

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"service": serviceName,
		"version": version,
		"status":  "running",
		"endpoints": map[string]string{
			"GET /":                "This endpoint - API information",
			"GET /health":          "Health check",
			"GET /config":          "Current configuration",
			"GET /status":          "Monitor status",
			"GET /listings":        "Get tracked listings",
			"DELETE /listings":     "Clear all tracked listings",
			"POST /search":         "Perform a search",
			"POST /notify":         "Send a test notification",
			"POST /notify/listing": "Send a notification for a listing",
			"POST /check":          "Run one check cycle",
			"POST /monitor/start":  "Start continuous monitoring",
			"POST /monitor/stop":   "Stop monitoring",
			"GET /metrics":         "Prometheus metrics",
		},
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"monitor_running": s.monitorRunning(),
	})
}

func (s *Server) handleConfig(c echo.Context) error {
	cfg := s.opts.Config
	return c.JSON(http.StatusOK, map[string]interface{}{
		"search": map[string]interface{}{
			"keywords":     cfg.Search.Keywords,
			"location":     cfg.Search.Location,
			"radius_miles": cfg.Search.RadiusMiles,
			"min_price":    cfg.Search.MinPrice,
			"max_price":    cfg.Search.MaxPrice,
			"category":     cfg.Search.Category,
		},
		"monitor": map[string]interface{}{
			"check_interval_seconds": int(cfg.Monitor.CheckInterval / time.Second),
			"schedule":               cfg.Monitor.Schedule,
			"headless_browser":       cfg.Source.Headless,
			"max_listings_per_check": cfg.Search.Limit,
			"cleanup_days":           int(cfg.Monitor.Retention / (24 * time.Hour)),
			"item_rule":              cfg.Monitor.ItemRule,
		},
		"notifications": map[string]interface{}{
			"telegram_enabled": cfg.Telegram.Enabled(),
			"email_enabled":    cfg.EmailEnabled(),
		},
		"store": map[string]interface{}{
			"backend": cfg.Store.Backend,
		},
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	problems := s.opts.Config.Validate()
	if problems == nil {
		problems = []string{}
	}
	body := map[string]interface{}{
		"monitor_running":      s.monitorRunning(),
		"configuration_valid":  len(problems) == 0,
		"configuration_errors": problems,
	}
	if s.opts.Monitor != nil {
		st := s.opts.Monitor.Status()
		body["monitor"] = st
		body["last_results_count"] = st.LastCheckCount
		if !st.LastCheckTime.IsZero() {
			body["last_check"] = st.LastCheckTime.Format(time.RFC3339)
		} else {
			body["last_check"] = nil
		}
	}
	if s.opts.Store != nil {
		stats, err := s.opts.Store.Stats(c.Request().Context())
		if err != nil {
			return s.fail(c, http.StatusInternalServerError, err)
		}
		body["storage"] = stats
	}
	return c.JSON(http.StatusOK, body)
}

type listingView struct {
	ID        string    `json:"listing_id"`
	Title     string    `json:"title"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Notified  bool      `json:"notified"`
}

func (s *Server) handleListings(c echo.Context) error {
	limit := queryInt(c, "limit", defaultListingsLimit)
	offset := queryInt(c, "offset", 0)
	if limit < 0 || offset < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit and offset must not be negative"})
	}
	records, err := s.opts.Store.Records(c.Request().Context())
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	total := len(records)
	page := []listingView{}
	if offset < total {
		end := total
		if limit < total-offset {
			end = offset + limit
		}
		for _, rec := range records[offset:end] {
			page = append(page, listingView{
				ID:        rec.ID,
				Title:     rec.Title,
				FirstSeen: rec.FirstSeen,
				LastSeen:  rec.LastSeen,
				Notified:  rec.Notified,
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":    total,
		"offset":   offset,
		"limit":    limit,
		"listings": page,
	})
}

func (s *Server) handleClearListings(c echo.Context) error {
	if err := s.opts.Store.Clear(c.Request().Context()); err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "All listings cleared",
	})
}

type searchRequest struct {
	Query       string `json:"query"`
	Location    string `json:"location"`
	MinPrice    *int   `json:"min_price"`
	MaxPrice    *int   `json:"max_price"`
	RadiusMiles *int   `json:"radius_miles"`
	Category    string `json:"category"`
	MaxListings int    `json:"max_listings"`
}

type searchResult struct {
	core.Item
	IsNew bool `json:"is_new"`
}

// handleSearch runs a one-off search. Results are flagged but never marked
// seen.
func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := bindOptional(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	cfg := s.opts.Config.Search
	if req.Query == "" && len(cfg.Keywords) > 0 {
		req.Query = cfg.Keywords[0]
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No search query provided"})
	}
	q := core.Query{
		Term:        req.Query,
		Location:    firstNonEmpty(req.Location, cfg.Location),
		MinPrice:    cfg.MinPrice,
		MaxPrice:    cfg.MaxPrice,
		RadiusMiles: cfg.RadiusMiles,
		Category:    firstNonEmpty(req.Category, cfg.Category),
		Limit:       defaultSearchLimit,
	}
	if req.MinPrice != nil {
		q.MinPrice = req.MinPrice
	}
	if req.MaxPrice != nil {
		q.MaxPrice = req.MaxPrice
	}
	if req.RadiusMiles != nil {
		q.RadiusMiles = *req.RadiusMiles
	}
	if req.MaxListings > 0 {
		q.Limit = req.MaxListings
	}

	ctx := c.Request().Context()
	src, err := s.opts.Sources(ctx)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warn("failed to close source", "error", err)
		}
	}()
	items, err := src.Search(ctx, q)
	if err != nil {
		return s.fail(c, http.StatusInternalServerError, err)
	}

	results := make([]searchResult, 0, len(items))
	for _, item := range items {
		seen, err := s.opts.Store.HasSeen(ctx, item.ID)
		if err != nil {
			return s.fail(c, http.StatusInternalServerError, err)
		}
		results = append(results, searchResult{Item: item, IsNew: !seen})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"query":    q.Term,
		"count":    len(results),
		"listings": results,
	})
}

func (s *Server) handleNotify(c echo.Context) error {
	var req struct {
		Message string `json:"message"`
	}
	if err := bindOptional(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" {
		req.Message = "Test notification from Marketplace Monitor API"
	}
	ok := s.opts.Notifier.NotifyStatus(c.Request().Context(), req.Message)
	message := "Notification sent"
	if !ok {
		message = "Failed to send notification"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": ok, "message": message})
}

func (s *Server) handleNotifyListing(c echo.Context) error {
	var req struct {
		ID          string `json:"listing_id"`
		Title       string `json:"title"`
		Price       string `json:"price"`
		Location    string `json:"location"`
		URL         string `json:"url"`
		ImageURL    string `json:"image_url"`
		Description string `json:"description"`
	}
	if c.Request().ContentLength == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No listing data provided"})
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	item := core.Item{
		ID:          firstNonEmpty(req.ID, "api-test"),
		Title:       firstNonEmpty(req.Title, "Test Listing"),
		Price:       firstNonEmpty(req.Price, "$0"),
		Location:    firstNonEmpty(req.Location, "Unknown"),
		URL:         firstNonEmpty(req.URL, "https://www.facebook.com/marketplace"),
		ImageURL:    req.ImageURL,
		Description: req.Description,
	}
	ok := s.opts.Notifier.NotifyOne(c.Request().Context(), item)
	message := "Listing notification sent"
	if !ok {
		message = "Failed to send"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": ok, "message": message})
}

func (s *Server) handleCheck(c echo.Context) error {
	sent, err := s.opts.Monitor.RunOnce(c.Request().Context())
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"message": "Configuration errors",
				"errors":  verr.Problems,
			})
		}
		return s.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "sent": sent})
}

func (s *Server) handleMonitorStart(c echo.Context) error {
	err := s.opts.Monitor.Start(s.opts.BaseContext)
	var verr *config.ValidationError
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "Monitor started"})
	case errors.Is(err, runner.ErrAlreadyRunning):
		return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "message": "Monitor is already running"})
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Configuration errors",
			"errors":  verr.Problems,
		})
	default:
		return s.fail(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleMonitorStop(c echo.Context) error {
	err := s.opts.Monitor.Stop()
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "Monitor stopped"})
	case errors.Is(err, runner.ErrNotRunning):
		return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "message": "Monitor is not running"})
	default:
		return s.fail(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) monitorRunning() bool {
	return s.opts.Monitor != nil && s.opts.Monitor.Status().Running
}

func (s *Server) fail(c echo.Context, status int, err error) error {
	s.logger.Error("api request failed", "path", c.Path(), "error", err)
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c echo.Context, v interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	return c.Bind(v)
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
