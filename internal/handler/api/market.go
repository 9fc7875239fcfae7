package api

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"MarketPulse/internal/domain/market"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/stream"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

const headerDataSource = "X-Data-Source"

// MarketHandler serves the dashboard endpoints. Every response is
// HTTP 200 with an embedded error field on failure, so clients parse
// one shape regardless of upstream health.
type MarketHandler struct {
	logger   *xlogger.Logger
	composer *usecase.Composer
	orch     *usecase.Orchestrator
	sectors  *usecase.SectorEngine
	hub      *stream.Hub
}

func NewMarketHandler(logger *xlogger.Logger, composer *usecase.Composer, orch *usecase.Orchestrator, sectors *usecase.SectorEngine, hub *stream.Hub) *MarketHandler {
	return &MarketHandler{
		logger:   logger,
		composer: composer,
		orch:     orch,
		sectors:  sectors,
		hub:      hub,
	}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/market")
	g.GET("/unified", h.Unified)
	g.POST("/unified", h.BulkQuotes)
	g.GET("/data", h.Data)
	g.GET("/heatmap", h.Heatmap)
	g.GET("/stream", h.Stream)
	e.GET("/healthz", h.Healthz)
}

type unifiedResponse struct {
	*models.UnifiedSnapshot
	Providers []usecase.ProviderStatus `json:"providers,omitempty"`
}

func (h *MarketHandler) Unified(c echo.Context) error {
	req := &models.UnifiedRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var snap *models.UnifiedSnapshot
	if req.Mode == "incremental" && req.Section != "" {
		snap = h.composer.Incremental(c.Request().Context(), models.Section(req.Section))
	} else {
		snap = h.composer.Full(c.Request().Context(), false)
	}

	h.annotate(c, snap.Source)

	res := unifiedResponse{UnifiedSnapshot: snap}
	if req.Debug == 1 {
		res.Providers = h.orch.Status()
	}
	return xhttp.SuccessResponse(c, res)
}

type bulkQuotesResponse struct {
	Quotes    map[string]any `json:"quotes"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

type quoteError struct {
	Error string `json:"error"`
}

func (h *MarketHandler) BulkQuotes(c echo.Context) error {
	req := &models.BulkQuotesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	// Providers canonicalize symbols to uppercase; match the request
	// the same way so "aapl" finds AAPL's quote.
	symbols := make([]string, len(req.Symbols))
	for i, sym := range req.Symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	res := bulkQuotesResponse{
		Quotes:    make(map[string]any, len(symbols)),
		Timestamp: time.Now(),
	}

	quotes, source, err := h.orch.BulkQuotes(c.Request().Context(), symbols)
	if err != nil {
		h.logger.Error("bulk quotes failed", xlogger.Error(err))
		res.Error = errString(err)
		source = models.SourceStaleCache
	}

	bySymbol := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	for _, sym := range symbols {
		if q, ok := bySymbol[sym]; ok {
			res.Quotes[sym] = q
		} else {
			res.Quotes[sym] = quoteError{Error: "no data"}
		}
	}

	h.annotate(c, source)
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketHandler) Data(c echo.Context) error {
	req := &models.DataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()

	switch req.Section {
	case "indices":
		indices, source, err := h.orch.Indices(ctx)
		h.annotate(c, source)
		return xhttp.SuccessResponse(c, sectionPayload("indices", indices, err))

	case "movers":
		category := models.MoverCategory(req.Category)
		if category == "" {
			category = models.MoverGainers
		}
		movers, source, err := h.orch.Movers(ctx, category)
		h.annotate(c, source)
		return xhttp.SuccessResponse(c, sectionPayload("movers", movers, err))

	case "search":
		if req.Query == "" {
			return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
				Code: "ERR_REQUIRED", Field: "query", Message: "query is required for search",
			}})
		}
		results, source, err := h.orch.Search(ctx, req.Query)
		h.annotate(c, source)
		return xhttp.SuccessResponse(c, sectionPayload("results", results, err))

	case "quote":
		if req.Symbol == "" {
			return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
				Code: "ERR_REQUIRED", Field: "symbol", Message: "symbol is required for quote",
			}})
		}
		quote, source, err := h.orch.Quote(ctx, req.Symbol)
		h.annotate(c, source)
		return xhttp.SuccessResponse(c, sectionPayload("quote", quote, err))

	case "chart":
		if req.Symbol == "" {
			return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
				Code: "ERR_REQUIRED", Field: "symbol", Message: "symbol is required for chart",
			}})
		}
		chart, source, err := h.orch.Chart(ctx, req.Symbol, req.Range, req.Interval)
		h.annotate(c, source)
		return xhttp.SuccessResponse(c, sectionPayload("chart", chart, err))
	}

	return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
		Code: "ERR_ONEOF", Field: "section", Message: "unknown section",
	}})
}

func (h *MarketHandler) Heatmap(c echo.Context) error {
	sectors, err := h.sectors.Sectors(c.Request().Context(), false)
	if err != nil {
		h.logger.Error("heatmap failed", xlogger.Error(err))
		return xhttp.SuccessResponse(c, echo.Map{
			"sectors": []models.SectorSummary{},
			"error":   err.Error(),
		})
	}
	h.annotate(c, models.SourceFresh)
	return xhttp.SuccessResponse(c, echo.Map{"sectors": sectors})
}

func (h *MarketHandler) Stream(c echo.Context) error {
	return h.hub.Serve(c.Response(), c.Request())
}

func (h *MarketHandler) Healthz(c echo.Context) error {
	return xhttp.SuccessResponse(c, echo.Map{
		"status":      "ok",
		"providers":   h.orch.Status(),
		"subscribers": h.hub.Subscribers(),
	})
}

// annotate marks every data response uncacheable and labels where the
// payload came from.
func (h *MarketHandler) annotate(c echo.Context, source models.DataSource) {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	if source != "" {
		c.Response().Header().Set(headerDataSource, string(source))
	}
}

// sectionPayload carries the error inline so the wire status can stay
// 200 on upstream failure.
func sectionPayload(key string, v any, err error) echo.Map {
	m := echo.Map{key: v}
	if err != nil {
		m["error"] = errString(err)
	}
	return m
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	var all *market.AllProvidersFailed
	if errors.As(err, &all) {
		return all.Error()
	}
	return err.Error()
}
