package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zap.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zap.ErrorLevel, parseLevel(" error "))
	assert.Equal(t, zap.InfoLevel, parseLevel("verbose"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0190a1b2", ShortID("0190a1b2-c3d4-7e5f"))
	assert.Equal(t, "abc", ShortID("abc"))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
