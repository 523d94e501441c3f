// Package utils provides utility functions.
package utils

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/mitchellh/go-homedir"
	"github.com/muesli/termenv"
)

var sizeSuffix = regexp.MustCompile(`(?i)^\s*(\d+)\s*([kmg]?)i?b?\s*$`)

// ExpandPath expands tilde and all environment variables from the given path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	s, err := homedir.Expand(path)
	if err == nil {
		return os.ExpandEnv(s)
	}
	return os.ExpandEnv(path)
}

// AbsPath expands path and makes it absolute. Unresolvable paths are
// returned expanded but relative.
func AbsPath(path string) string {
	path = ExpandPath(path)
	if path == "" {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// ParseSize parses sizes like "32MB", "512k" or "1g" into bytes. The
// second return value is false when s is not a size.
func ParseSize(s string) (int64, bool) {
	m := sizeSuffix.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	var n int64
	for _, r := range m[1] {
		n = n*10 + int64(r-'0')
	}
	switch strings.ToLower(m[2]) {
	case "k":
		n <<= 10
	case "m":
		n <<= 20
	case "g":
		n <<= 30
	}
	return n, true
}

// GlamourStyle returns a glamour.TermRendererOption based on the given style.
func GlamourStyle(style string) glamour.TermRendererOption {
	if style == styles.AutoStyle {
		if termenv.HasDarkBackground() {
			return glamour.WithStyles(styles.DarkStyleConfig)
		}
		return glamour.WithStyles(styles.LightStyleConfig)
	}
	return glamour.WithStylePath(style)
}
