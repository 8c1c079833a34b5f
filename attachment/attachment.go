// Package attachment turns user supplied photos and videos into payloads the
// conversation can send upstream.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedMedia is returned for anything that is not an image or a video.
var ErrUnsupportedMedia = errors.New("attachment: only image and video media are accepted")

// Kind is the media family of an attachment.
type Kind string

const (
	Image Kind = "image"
	Video Kind = "video"
)

// Source is the capture entry point the file came from.
type Source string

const (
	SourceGallery  Source = "gallery"
	SourceCamera   Source = "camera"
	SourceIdentify Source = "identify"
)

// ParseSource maps a wire value to a Source. Unknown values read as gallery.
func ParseSource(s string) Source {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceCamera:
		return SourceCamera
	case SourceIdentify:
		return SourceIdentify
	default:
		return SourceGallery
	}
}

// Attachment is one media object staged for sending.
type Attachment struct {
	Kind Kind `json:"type"`
	// DisplayRef is a local preview handle and never leaves the process.
	DisplayRef string `json:"displayReference,omitempty"`
	// Data is the base64 encoded payload.
	Data      string `json:"-"`
	MediaType string `json:"mediaType"`
	Size      int    `json:"size"`
}

// IsImage reports whether the attachment is a still image.
func (a *Attachment) IsImage() bool {
	return a != nil && a.Kind == Image
}

// Capture reads r and builds an attachment for the given source.
//
// The declared media type wins when it parses; otherwise the content is
// sniffed. Camera and identify captures are always treated as images.
func Capture(source Source, name, declaredType string, r io.Reader) (*Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return FromBytes(source, name, declaredType, data)
}

// FromBytes is Capture for data already in memory.
func FromBytes(source Source, name, declaredType string, data []byte) (*Attachment, error) {
	if len(data) == 0 {
		return nil, errors.New("attachment: empty payload")
	}

	mediaType := normalizeType(declaredType)
	if mediaType == "" {
		mediaType = normalizeType(mimetype.Detect(data).String())
	}
	if !strings.HasPrefix(mediaType, "image/") && !strings.HasPrefix(mediaType, "video/") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMedia, mediaType)
	}

	kind := Image
	if source == SourceGallery && strings.HasPrefix(mediaType, "video/") {
		kind = Video
	}
	if kind == Image && !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("%w: %s capture got %q", ErrUnsupportedMedia, source, mediaType)
	}

	return &Attachment{
		Kind:       kind,
		DisplayRef: strings.TrimSpace(name),
		Data:       base64.StdEncoding.EncodeToString(data),
		MediaType:  mediaType,
		Size:       len(data),
	}, nil
}

// FromBase64 decodes a wire payload and captures it.
func FromBase64(source Source, name, declaredType, encoded string) (*Attachment, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return FromBytes(source, name, declaredType, data)
}

func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// Stager holds at most one attachment waiting for the next send.
type Stager struct {
	mu     sync.Mutex
	staged *Attachment
}

// Stage replaces whatever was staged.
func (s *Stager) Stage(a *Attachment) {
	s.mu.Lock()
	s.staged = a
	s.mu.Unlock()
}

// Take returns the staged attachment and clears the slot.
func (s *Stager) Take() *Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.staged
	s.staged = nil
	return a
}

// Peek returns the staged attachment without consuming it.
func (s *Stager) Peek() *Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged
}

// Discard drops the staged attachment and reports whether there was one.
func (s *Stager) Discard() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.staged != nil
	s.staged = nil
	return had
}
