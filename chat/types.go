package chat

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/iacfarm/attachment"
)

// Role is who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of the conversation as rendered to clients.
type Message struct {
	ID         string                 `json:"id"`
	Role       Role                   `json:"role"`
	Content    string                 `json:"content"`
	Attachment *attachment.Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	// IsThinking is only ever set on the rendered pending placeholder.
	IsThinking     bool   `json:"isThinking,omitempty"`
	AudioBase64    string `json:"audioBase64,omitempty"`
	IsAudioLoading bool   `json:"isAudioLoading,omitempty"`
}

// NewID returns a time ordered message id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GeoContext is the user position in decimal degrees.
type GeoContext struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Annotation is the machine readable location note appended to prompts.
func (g GeoContext) Annotation() string {
	return "\n\n[DADOS DE SISTEMA - LOCALIZAÇÃO DO USUÁRIO]: Lat: " + formatCoord(g.Lat) +
		", Long: " + formatCoord(g.Lng) + ". Considere o clima e solo desta região na resposta."
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// GeoSource yields the position when one is known.
type GeoSource interface {
	Geo() (GeoContext, bool)
}

// NoGeo is the unavailable capability.
type NoGeo struct{}

func (NoGeo) Geo() (GeoContext, bool) { return GeoContext{}, false }

// StaticGeo always reports the same position.
type StaticGeo GeoContext

func (s StaticGeo) Geo() (GeoContext, bool) { return GeoContext(s), true }

// GeoCell captures a position once per session. Until it is set the
// fallback source answers.
type GeoCell struct {
	mu       sync.RWMutex
	set      bool
	geo      GeoContext
	fallback GeoSource
}

func NewGeoCell(fallback GeoSource) *GeoCell {
	if fallback == nil {
		fallback = NoGeo{}
	}
	return &GeoCell{fallback: fallback}
}

// Set stores the position if none was captured yet and reports whether it did.
func (c *GeoCell) Set(g GeoContext) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return false
	}
	c.geo = g
	c.set = true
	return true
}

func (c *GeoCell) Geo() (GeoContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.set {
		return c.geo, true
	}
	return c.fallback.Geo()
}
