package usecase

import (
	"mime"
	"strings"
	"time"
)

// ScanConfig is the explicit configuration of the scan pipeline. It is
// passed at construction so limits can vary per instance and per test.
type ScanConfig struct {
	MaxUploadBytes   int64
	AllowedMimeTypes []string
	ProcessTimeout   time.Duration
	WriteTimeout     time.Duration
	StaleGrace       time.Duration
	MaxTasksPerJob   int
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxUploadBytes:   20 << 20,
		AllowedMimeTypes: []string{"image/*", "application/pdf"},
		ProcessTimeout:   2 * time.Minute,
		WriteTimeout:     10 * time.Second,
		StaleGrace:       time.Minute,
		MaxTasksPerJob:   10,
	}
}

func (c ScanConfig) normalize() ScanConfig {
	out := c
	def := DefaultScanConfig()

	if out.MaxUploadBytes <= 0 {
		out.MaxUploadBytes = def.MaxUploadBytes
	}
	if len(out.AllowedMimeTypes) == 0 {
		out.AllowedMimeTypes = def.AllowedMimeTypes
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = def.ProcessTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.StaleGrace <= 0 {
		out.StaleGrace = def.StaleGrace
	}
	if out.MaxTasksPerJob <= 0 {
		out.MaxTasksPerJob = def.MaxTasksPerJob
	}
	return out
}

// StaleAfter is how long a job may stay processing before the sweeper
// resolves it as a timeout.
func (c ScanConfig) StaleAfter() time.Duration {
	return c.ProcessTimeout + c.StaleGrace
}

func normalizeMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(mediaType)
}

// mediaTypeAllowed matches exact types and "type/*" wildcards.
func mediaTypeAllowed(mediaType string, patterns []string) bool {
	if mediaType == "" {
		return false
	}
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(mediaType, prefix) && len(mediaType) > len(prefix) {
				return true
			}
			continue
		}
		if mediaType == pattern {
			return true
		}
	}
	return false
}
