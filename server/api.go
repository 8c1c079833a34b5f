package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/persistence"
	"github.com/room4-2/iacfarm/planner"
	"github.com/room4-2/iacfarm/weather"
)

// CropPlanner generates crop planning reports.
type CropPlanner interface {
	Generate(ctx context.Context, crop string, geo *chat.GeoContext) (*planner.CropPlan, error)
}

// WeatherSource reports current conditions, or nil when unavailable.
type WeatherSource interface {
	Fetch(ctx context.Context, lat, lng float64) *weather.Info
}

type cropPlanRequest struct {
	Crop string   `json:"crop" binding:"required"`
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
}

// handlePlants handles GET /api/plants
func (s *Server) handlePlants(c *gin.Context) {
	if s.deps.Diagnoses == nil {
		c.JSON(http.StatusOK, []persistence.Diagnosis{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Diagnoses.History(c.Request.Context()))
}

// handleCropPlan handles POST /api/crop-plans
func (s *Server) handleCropPlan(c *gin.Context) {
	if s.deps.Planner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "crop planning is not configured"})
		return
	}
	var req cropPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var geo *chat.GeoContext
	if req.Lat != nil && req.Lng != nil {
		if !validCoords(*req.Lat, *req.Lng) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
			return
		}
		geo = &chat.GeoContext{Lat: *req.Lat, Lng: *req.Lng}
	}

	plan, err := s.deps.Planner.Generate(c.Request.Context(), req.Crop, geo)
	switch {
	case errors.Is(err, planner.ErrEmptyCrop):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		s.log.Warn("crop_plan_request_failed", zap.String("crop", req.Crop), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Não foi possível gerar o plano agora."})
	default:
		c.JSON(http.StatusOK, plan)
	}
}

// handleWeather handles GET /api/weather?lat=..&lng=..
func (s *Server) handleWeather(c *gin.Context) {
	if s.deps.Weather == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weather is not configured"})
		return
	}
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil || !validCoords(lat, lng) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}

	info := s.deps.Weather.Fetch(c.Request.Context(), lat, lng)
	if info == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weather unavailable"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func validCoords(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
