package channels

import (
	"errors"
	"strings"

	"github.com/router-for-me/GeminiDrawer/internal/models"
)

var (
	// ErrUnsupportedURL is returned for URLs that match no known dialect.
	ErrUnsupportedURL = errors.New("channels: unsupported url, expected /chat/completions, /images/generations or generateContent")
	// ErrMissingModel is returned when an OpenAI-style URL has no trailing model.
	ErrMissingModel = errors.New("channels: model is required for /chat/completions and /images/generations")
	// ErrMalformedDefinition is returned when a definition lacks name or url.
	ErrMalformedDefinition = errors.New("channels: definition must look like name:url[:model]")
)

const (
	pathChatCompletions  = "/chat/completions"
	pathImageGenerations = "/images/generations"
	markerGenerate       = "generateContent"
)

// ParseDefinition parses "name:url[:model]" into an enabled, non-streaming
// image channel.
func ParseDefinition(def string) (models.Channel, error) {
	def = strings.TrimSpace(def)
	name, rest, ok := strings.Cut(def, ":")
	name = strings.TrimSpace(name)
	rest = strings.TrimSpace(rest)
	if !ok || name == "" || rest == "" {
		return models.Channel{}, ErrMalformedDefinition
	}

	var url, model string
	switch {
	case strings.Contains(rest, pathChatCompletions) || strings.Contains(rest, pathImageGenerations):
		if hasPathSuffix(rest) {
			return models.Channel{}, ErrMissingModel
		}
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			return models.Channel{}, ErrMissingModel
		}
		url = strings.TrimSpace(rest[:idx])
		model = strings.TrimSpace(rest[idx+1:])
		if model == "" || !hasPathSuffix(url) {
			return models.Channel{}, ErrMissingModel
		}
	case strings.Contains(rest, markerGenerate):
		url = rest
	default:
		return models.Channel{}, ErrUnsupportedURL
	}

	return models.Channel{
		Name:    name,
		URL:     url,
		Model:   model,
		Enabled: true,
	}, nil
}

func hasPathSuffix(url string) bool {
	url = strings.TrimRight(url, "/")
	return strings.HasSuffix(url, pathChatCompletions) || strings.HasSuffix(url, pathImageGenerations)
}
