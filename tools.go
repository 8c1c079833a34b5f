//go:build tools

// Pins the lint toolchain used by `make lint` so it resolves from go.sum.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
