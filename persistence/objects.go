package persistence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// UploadsPrefix is the URL path under which the object directory is served.
const UploadsPrefix = "/uploads/"

// maxKeyAttempts bounds the suffixes tried when a key is already taken.
const maxKeyAttempts = 100

// ObjectStore keeps uploaded photos on disk and hands out public URLs.
type ObjectStore struct {
	dir     string
	baseURL string
	now     func() time.Time
}

// NewObjectStore creates the upload directory if needed.
func NewObjectStore(dir, publicBaseURL string) (*ObjectStore, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return nil, errors.New("missing upload dir")
	}
	if err := os.MkdirAll(filepath.Join(dir, "diagnosticos"), 0o755); err != nil {
		return nil, err
	}
	return &ObjectStore{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}, nil
}

// Dir returns the directory served under UploadsPrefix.
func (o *ObjectStore) Dir() string {
	return o.dir
}

// Put writes data under diagnosticos/ and returns the public URL. An existing
// object is never replaced: a taken key gets a numeric suffix.
func (o *ObjectStore) Put(data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty object")
	}
	ext := ".jpg"
	if mt := mimetype.Detect(data); strings.HasPrefix(mt.String(), "image/") && mt.Extension() != "" {
		ext = mt.Extension()
	}

	stem := fmt.Sprintf("%d_%s", o.now().UnixMilli(), sanitizeName(name))
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		candidate := stem
		if attempt > 0 {
			candidate = fmt.Sprintf("%s_%d", stem, attempt)
		}
		key := path.Join("diagnosticos", candidate+ext)
		err := writeNew(filepath.Join(o.dir, filepath.FromSlash(key)), data)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return o.baseURL + UploadsPrefix + key, nil
	}
	return "", fmt.Errorf("no free object key for %s%s", stem, ext)
}

// writeNew creates dst exclusively and removes it again if the write fails.
func writeNew(dst string, data []byte) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
