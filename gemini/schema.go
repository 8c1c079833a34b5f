package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func integer(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeInteger, Description: desc}
}

func stringList(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: desc}
}

// CropPlanSchema constrains the JSON the model returns for a crop plan.
func CropPlanSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"cropName":       str("Nome comum da cultura"),
			"scientificName": str("Nome científico"),
			"description":    str("Breve descrição sobre o potencial da cultura"),
			"bestSeason":     str("Melhor época do ano para plantio CONSIDERANDO A LOCALIZAÇÃO SE FORNECIDA"),
			"cycleDuration":  str("Texto descritivo da duração (ex: '90 a 120 dias')"),
			"cycleDaysMin":   integer("Número MÍNIMO de dias para colheita (apenas número)"),
			"cycleDaysMax":   integer("Número MÁXIMO de dias para colheita (apenas número)"),
			"soilRequirements": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"ph":            {Type: genai.TypeString},
					"texture":       {Type: genai.TypeString},
					"nutrientFocus": str("Principais nutrientes necessários (NPK)"),
				},
			},
			"soilData": {
				Type:        genai.TypeObject,
				Description: "Dados numéricos para gráficos",
				Properties: map[string]*genai.Schema{
					"nitrogen":   integer("Nível de necessidade de Nitrogênio (1-10)"),
					"phosphorus": integer("Nível de necessidade de Fósforo (1-10)"),
					"potassium":  integer("Nível de necessidade de Potássio (1-10)"),
					"phValue":    {Type: genai.TypeNumber, Description: "Valor ideal de pH (ex: 6.5)"},
				},
				Required: []string{"nitrogen", "phosphorus", "potassium", "phValue"},
			},
			"irrigation": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"frequency": {Type: genai.TypeString},
					"method":    str("Melhor método (gotejamento, aspersão, etc)"),
				},
			},
			"plantingSteps": stringList("Lista ordenada de 3 a 5 passos resumidos para o plantio"),
			"commonPests":   stringList("Lista de 3 pragas ou doenças comuns"),
			"seasonalRisks": {
				Type:        genai.TypeArray,
				Description: "Calendário de riscos (pragas/doenças) por período do ano, específico para a região. Ex: Novembro (Lagarta).",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"period":     str("Período ou Meses (Ex: 'Novembro - Dezembro')"),
						"stage":      str("Estágio da planta (Ex: 'Floração' ou 'Enchimento de Grão')"),
						"risks":      stringList("Lista de doenças/pragas comuns NESTA época"),
						"prevention": str("Dica curta de prevenção"),
					},
				},
			},
			"harvestIndicators": str("Sinais visuais de que está na hora de colher"),
		},
		Required: []string{
			"cropName", "bestSeason", "cycleDuration", "cycleDaysMin", "cycleDaysMax",
			"plantingSteps", "irrigation", "soilRequirements", "soilData", "seasonalRisks",
		},
	}
}

// GenerateCropPlan asks the chat model for a crop plan and returns the raw JSON.
func (c *Client) GenerateCropPlan(ctx context.Context, prompt string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   CropPlanSchema(),
	}
	contents := []*genai.Content{{Role: roleUser, Parts: []*genai.Part{{Text: prompt}}}}
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.ChatModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate crop plan: %w", err)
	}
	content := firstContent(resp)
	if content == nil {
		return nil, ErrNoContent
	}
	text := strings.TrimSpace(textOf(content))
	if text == "" {
		return nil, ErrNoContent
	}
	return []byte(text), nil
}
