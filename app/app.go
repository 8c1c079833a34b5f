// Package app wires the backends shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/config"
	"github.com/room4-2/iacfarm/functions"
	"github.com/room4-2/iacfarm/gemini"
	"github.com/room4-2/iacfarm/logger"
	"github.com/room4-2/iacfarm/persistence"
	"github.com/room4-2/iacfarm/planner"
	"github.com/room4-2/iacfarm/session"
	"github.com/room4-2/iacfarm/weather"
)

// App holds one instance of every backend.
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Store   *persistence.Store
	Objects *persistence.ObjectStore
	Gateway *persistence.Service
	Weather *weather.Client
	Gemini  *gemini.Client
	Planner *planner.Service
	FarmGeo chat.GeoSource
}

// Build opens storage and creates the model client. Close releases both.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)

	store, err := persistence.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	objects, err := persistence.NewObjectStore(cfg.UploadDir, cfg.PublicBaseURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}

	wx := weather.NewClient(cfg.WeatherTimeout, log)
	tools := functions.NewRegistry()
	tools.Register(functions.GetLocalWeatherFunctionDeclaration(), functions.GetLocalWeather(wx))

	gem, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:            cfg.GeminiAPIKey,
		ChatModel:         cfg.ChatModel,
		TTSModel:          cfg.TTSModel,
		TranscribeModel:   cfg.TranscribeModel,
		VoiceName:         cfg.VoiceName,
		SystemInstruction: session.DefaultSystemPrompt,
		Tools:             tools,
		Logger:            log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var farm chat.GeoSource = chat.NoGeo{}
	if cfg.FarmLat != nil && cfg.FarmLng != nil {
		farm = chat.StaticGeo{Lat: *cfg.FarmLat, Lng: *cfg.FarmLng}
	}

	log.Info("backends_ready",
		zap.String("database", cfg.DatabaseDriver),
		zap.String("chat_model", cfg.ChatModel),
		zap.String("tts_model", cfg.TTSModel),
		zap.Bool("farm_location", cfg.FarmLat != nil))

	return &App{
		Config:  cfg,
		Log:     log,
		Store:   store,
		Objects: objects,
		Gateway: persistence.NewService(objects, store, log),
		Weather: wx,
		Gemini:  gem,
		Planner: planner.NewService(gem, store, cfg.InferenceTimeout, log),
		FarmGeo: farm,
	}, nil
}

// SessionServices is the per-connection backend set.
func (a *App) SessionServices() session.Services {
	return session.Services{
		Inference:   a.Gemini,
		Synthesizer: a.Gemini,
		Transcriber: a.Gemini,
		Gateway:     a.Gateway,
		FarmGeo:     a.FarmGeo,
	}
}

// Close shuts the model client and the database.
func (a *App) Close() error {
	return errors.Join(a.Gemini.Close(), a.Store.Close())
}
