// Package persistence stores plant diagnoses, crop plans and uploaded photos.
//
// The chat core only sees the Gateway interface. Every method degrades to an
// empty result on failure and logs the cause; nothing crosses the boundary as
// an error.
package persistence

import (
	"context"
	"time"
)

// HealthStatus is the coarse health tag attached to a diagnosis.
type HealthStatus string

const (
	Healthy    HealthStatus = "healthy"
	Diseased   HealthStatus = "diseased"
	Pest       HealthStatus = "pest"
	Deficiency HealthStatus = "deficiency"
)

// Valid reports whether s is one of the known statuses.
func (s HealthStatus) Valid() bool {
	switch s {
	case Healthy, Diseased, Pest, Deficiency:
		return true
	}
	return false
}

// Diagnosis is one identified plant in the registry.
type Diagnosis struct {
	ID             string       `json:"id"`
	CommonName     string       `json:"commonName"`
	ScientificName string       `json:"scientificName"`
	Date           time.Time    `json:"date"`
	ImageURL       string       `json:"imageUrl"`
	HealthStatus   HealthStatus `json:"healthStatus"`
	Summary        string       `json:"diagnosisSummary"`
	FullDiagnosis  string       `json:"fullDiagnosis"`
	Confidence     int          `json:"confidence"` // 0-100
	Location       string       `json:"location,omitempty"`
}

// Gateway is the persistence boundary used by the conversation core.
type Gateway interface {
	// UploadImage stores base64 image data and returns its public reference.
	UploadImage(ctx context.Context, encoded string, name string) (string, bool)
	// SaveDiagnosis inserts a record and returns it with its id, or nil.
	SaveDiagnosis(ctx context.Context, d Diagnosis) *Diagnosis
	// History lists diagnoses, most recent first.
	History(ctx context.Context) []Diagnosis
}
