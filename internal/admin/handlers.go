package admin

import (
	"maps"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/lrucache/internal/caches"
	perrors "github.com/p-blackswan/lrucache/internal/errors"
	"github.com/p-blackswan/lrucache/internal/metrics"
)

type handlers struct {
	registry *caches.Registry
	metrics  *metrics.Registry
	reload   ReloadFunc
	logger   zerolog.Logger
}

func (h *handlers) listCaches(c *fiber.Ctx) error {
	return c.JSON(CacheListResponse{
		Caches:     h.registry.Stats(),
		Properties: h.registry.Properties(),
	})
}

func (h *handlers) getCache(c *fiber.Ctx) error {
	stats, err := h.registry.StatsFor(c.Params("name"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(stats)
}

func (h *handlers) clearCache(c *fiber.Ctx) error {
	if err := h.registry.Clear(c.Params("name")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) patchFactors(c *fiber.Ctx) error {
	var req FactorsRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Request body must be a JSON factors object")
	}

	resized, err := h.registry.Update(func(props *caches.Properties) {
		if req.GlobalFactor != nil {
			props.GlobalFactor = *req.GlobalFactor
		}
		if req.Replace {
			props.PerCacheFactors = maps.Clone(req.PerCacheFactors)
			return
		}
		maps.Copy(props.PerCacheFactors, req.PerCacheFactors)
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(FactorsResponse{Resized: nonNil(resized), Properties: h.registry.Properties()})
}

func (h *handlers) reloadConfig(c *fiber.Ctx) error {
	if h.reload == nil {
		return problemResponse(c, fiber.StatusNotImplemented,
			"reload_unavailable", "Not Implemented", "Configuration reload is not configured")
	}
	resized, err := h.reload(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(FactorsResponse{Resized: nonNil(resized), Properties: h.registry.Properties()})
}

func (h *handlers) metricsSummary(c *fiber.Ctx) error {
	if h.metrics == nil {
		return c.JSON(MetricsSummaryResponse{Caches: []metrics.Snapshot{}})
	}
	return c.JSON(MetricsSummaryResponse{Caches: h.metrics.Snapshots()})
}

// errorResponse maps domain errors onto problem responses.
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case perrors.IsNotFound(err):
		return problemResponse(c, fiber.StatusNotFound, "unknown_cache", "Not Found", err.Error())
	case perrors.IsInvalid(err):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_config", "Bad Request", err.Error())
	default:
		return err
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
