//go:build tools

package tools

// Blank imports in this file would keep build-time-only tool
// dependencies in go.sum without pulling them into the build; none are
// tracked at present. The fakes under internal/transporttest are
// hand-written, not generated.
