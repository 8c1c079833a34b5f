package persistence

import (
	"context"
	"encoding/base64"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/logger"
)

// Service implements Gateway on top of an ObjectStore and a Store.
type Service struct {
	objects *ObjectStore
	store   *Store
	log     *zap.Logger
}

var _ Gateway = (*Service)(nil)

func NewService(objects *ObjectStore, store *Store, log *zap.Logger) *Service {
	return &Service{objects: objects, store: store, log: logger.OrNop(log)}
}

// Store exposes the row storage for the REST layer and the planner.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) UploadImage(ctx context.Context, encoded string, name string) (string, bool) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.log.Warn("upload_image_decode_failed", zap.Error(err))
		return "", false
	}
	if err := ctx.Err(); err != nil {
		s.log.Warn("upload_image_canceled", zap.Error(err))
		return "", false
	}
	url, err := s.objects.Put(data, name)
	if err != nil {
		s.log.Error("upload_image_failed", zap.String("name", name), zap.Error(err))
		return "", false
	}
	s.log.Info("image_uploaded", zap.String("url", url), zap.String("size", humanize.Bytes(uint64(len(data)))))
	return url, true
}

func (s *Service) SaveDiagnosis(ctx context.Context, d Diagnosis) *Diagnosis {
	saved, err := s.store.CreateDiagnosis(ctx, d)
	if err != nil {
		s.log.Error("save_diagnosis_failed", zap.String("image_url", d.ImageURL), zap.Error(err))
		return nil
	}
	s.log.Info("diagnosis_saved", zap.String("id", saved.ID), zap.String("health_status", string(saved.HealthStatus)))
	return &saved
}

func (s *Service) History(ctx context.Context) []Diagnosis {
	out, err := s.store.ListDiagnoses(ctx, 0)
	if err != nil {
		s.log.Error("list_diagnoses_failed", zap.Error(err))
		return []Diagnosis{}
	}
	return out
}
