package functions

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/room4-2/iacfarm/weather"
)

const GetLocalWeatherName = "GetLocalWeather"

// WeatherFetcher reads current conditions for a position.
type WeatherFetcher interface {
	Fetch(ctx context.Context, lat, lng float64) *weather.Info
}

// GetLocalWeatherFunctionDeclaration returns the function declaration for Gemini
func GetLocalWeatherFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        GetLocalWeatherName,
		Description: "Consulta temperatura (°C), umidade relativa (%) e vento (km/h) atuais em uma coordenada. Use para recomendações de irrigação, pulverização e manejo.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"lat": {Type: genai.TypeNumber, Description: "Latitude em graus decimais"},
				"lng": {Type: genai.TypeNumber, Description: "Longitude em graus decimais"},
			},
			Required: []string{"lat", "lng"},
		},
	}
}

// GetLocalWeather builds the handler backed by f.
func GetLocalWeather(f WeatherFetcher) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		lat, err := number(args, "lat")
		if err != nil {
			return nil, err
		}
		lng, err := number(args, "lng")
		if err != nil {
			return nil, err
		}
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return nil, fmt.Errorf("coordinates out of range")
		}

		info := f.Fetch(ctx, lat, lng)
		if info == nil {
			return map[string]any{"available": false}, nil
		}
		return map[string]any{
			"available":   true,
			"location":    info.LocationName,
			"temperature": info.Temperature,
			"humidity":    info.Humidity,
			"windSpeed":   info.WindSpeed,
		}, nil
	}
}

func number(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("missing argument %q", key)
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}
