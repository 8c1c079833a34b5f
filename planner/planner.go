// Package planner generates crop planning reports with the chat model.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/logger"
)

var (
	ErrEmptyCrop   = errors.New("planner: crop name is required")
	ErrInvalidPlan = errors.New("planner: model returned an invalid plan")
)

// SoilRequirements describes the soil a crop wants.
type SoilRequirements struct {
	PH            string `json:"ph"`
	Texture       string `json:"texture"`
	NutrientFocus string `json:"nutrientFocus"`
}

// SoilData holds the chart values: NPK need on a 1-10 scale and ideal pH.
type SoilData struct {
	Nitrogen   int     `json:"nitrogen"`
	Phosphorus int     `json:"phosphorus"`
	Potassium  int     `json:"potassium"`
	PHValue    float64 `json:"phValue"`
}

type Irrigation struct {
	Frequency string `json:"frequency"`
	Method    string `json:"method"`
}

// SeasonalRisk is one row of the regional pest and disease calendar.
type SeasonalRisk struct {
	Period     string   `json:"period"`
	Stage      string   `json:"stage"`
	Risks      []string `json:"risks"`
	Prevention string   `json:"prevention"`
}

// CropPlan is the report rendered by the planner view.
type CropPlan struct {
	CropName          string           `json:"cropName"`
	ScientificName    string           `json:"scientificName,omitempty"`
	Description       string           `json:"description,omitempty"`
	BestSeason        string           `json:"bestSeason"`
	CycleDuration     string           `json:"cycleDuration"`
	CycleDaysMin      int              `json:"cycleDaysMin"`
	CycleDaysMax      int              `json:"cycleDaysMax"`
	SoilRequirements  SoilRequirements `json:"soilRequirements"`
	SoilData          SoilData         `json:"soilData"`
	Irrigation        Irrigation       `json:"irrigation"`
	PlantingSteps     []string         `json:"plantingSteps"`
	CommonPests       []string         `json:"commonPests,omitempty"`
	SeasonalRisks     []SeasonalRisk   `json:"seasonalRisks"`
	HarvestIndicators string           `json:"harvestIndicators,omitempty"`
}

// HarvestWindow is the earliest and latest harvest date for a crop planted at
// plantedAt.
func (p *CropPlan) HarvestWindow(plantedAt time.Time) (time.Time, time.Time) {
	return plantedAt.AddDate(0, 0, p.CycleDaysMin), plantedAt.AddDate(0, 0, p.CycleDaysMax)
}

// Validate checks the fields the report cannot render without.
func (p *CropPlan) Validate() error {
	switch {
	case strings.TrimSpace(p.CropName) == "":
		return fmt.Errorf("%w: missing cropName", ErrInvalidPlan)
	case p.CycleDaysMin <= 0 || p.CycleDaysMax < p.CycleDaysMin:
		return fmt.Errorf("%w: cycle days %d-%d", ErrInvalidPlan, p.CycleDaysMin, p.CycleDaysMax)
	case len(p.PlantingSteps) == 0:
		return fmt.Errorf("%w: no planting steps", ErrInvalidPlan)
	}
	return nil
}

// BuildPrompt writes the report request, specific to the region when geo is
// known and to Brazil at large otherwise.
func BuildPrompt(crop string, geo *chat.GeoContext) string {
	var b strings.Builder
	b.WriteString("Gere um relatório técnico de planejamento de safra para a cultura: ")
	b.WriteString(crop)
	b.WriteString(".\nSeja preciso, técnico mas acessível ao agricultor.")
	if geo == nil {
		b.WriteString(" Foco na realidade geral do Brasil. No 'seasonalRisks', considere a safra principal.")
		return b.String()
	}
	lat := strconv.FormatFloat(geo.Lat, 'f', -1, 64)
	lng := strconv.FormatFloat(geo.Lng, 'f', -1, 64)
	b.WriteString("\nIMPORTANTE: O usuário está nas coordenadas Lat: " + lat + ", Long: " + lng + ".\n")
	b.WriteString("Adapte as informações de CLIMA (Melhor Época) e SOLO (Tipos comuns na região) para esta localização específica.\n\n")
	b.WriteString("CRÍTICO: No campo 'seasonalRisks', gere um calendário fitossanitário que faça sentido para O CLIMA DESTA REGIÃO nestas coordenadas.\n")
	b.WriteString("Exemplo: Se for no Sul do Brasil (clima temperado/subtropical), considere o risco de geada ou doenças de inverno se aplicável, ou pragas de verão em Dezembro.\n")
	b.WriteString("Se for no Nordeste, considere a seca ou chuvas concentradas.\n")
	b.WriteString("Dê nomes reais de doenças que ocorrem em cada época (Ex: Ferrugem, Lagarta, Sarna).")
	return b.String()
}

// Generator returns the raw JSON plan for a prompt.
type Generator interface {
	GenerateCropPlan(ctx context.Context, prompt string) ([]byte, error)
}

// PlanStore keeps generated plans.
type PlanStore interface {
	SaveCropPlan(ctx context.Context, cropName string, data []byte) error
}

// Service generates, validates and records crop plans.
type Service struct {
	gen     Generator
	store   PlanStore
	timeout time.Duration
	log     *zap.Logger
}

// NewService wires a planner. store may be nil.
func NewService(gen Generator, store PlanStore, timeout time.Duration, log *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{gen: gen, store: store, timeout: timeout, log: logger.OrNop(log)}
}

// Generate builds a plan for crop. Saving is best effort and never fails the call.
func (s *Service) Generate(ctx context.Context, crop string, geo *chat.GeoContext) (*CropPlan, error) {
	crop = strings.TrimSpace(crop)
	if crop == "" {
		return nil, ErrEmptyCrop
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.gen.GenerateCropPlan(genCtx, BuildPrompt(crop, geo))
	if err != nil {
		s.log.Warn("crop_plan_generation_failed", zap.String("crop", crop), zap.Error(err))
		return nil, fmt.Errorf("generate crop plan: %w", err)
	}

	var plan CropPlan
	if err := sonic.Unmarshal(raw, &plan); err != nil {
		s.log.Warn("crop_plan_decode_failed", zap.String("crop", crop), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := plan.Validate(); err != nil {
		s.log.Warn("crop_plan_invalid", zap.String("crop", crop), zap.Error(err))
		return nil, err
	}

	if s.store != nil {
		if err := s.store.SaveCropPlan(ctx, plan.CropName, raw); err != nil {
			s.log.Warn("crop_plan_save_failed", zap.String("crop", plan.CropName), zap.Error(err))
		}
	}
	s.log.Info("crop_plan_generated", zap.String("crop", plan.CropName), zap.Bool("regional", geo != nil))
	return &plan, nil
}
