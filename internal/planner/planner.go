package planner

import (
	"context"
	"sort"
	"strings"

	"github.com/router-for-me/GeminiDrawer/internal/keystore"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	log "github.com/sirupsen/logrus"
)

// MediaKind selects between image and video plans.
type MediaKind int

const (
	KindImage MediaKind = iota
	KindVideo
)

func (k MediaKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "image"
}

// ChannelTypeRelay marks the free relay endpoint.
const ChannelTypeRelay = "relay"

// Endpoint is one ready-to-call URL and credential pair.
type Endpoint struct {
	ChannelType string // google, relay, or the custom channel name
	URL         string
	Key         string
	Model       string
	Stream      bool
	Relay       bool
	// Inline is set when the key comes from the channel record, not the key store.
	Inline bool
}

// Label renders the endpoint for logs and error messages.
func (e Endpoint) Label() string {
	if e.Relay || e.ChannelType == keystore.TypeGoogle {
		return e.ChannelType
	}
	return "custom_" + e.ChannelType
}

// Settings is the configuration surface the planner consumes.
type Settings struct {
	RelayEnabled  bool
	RelayURL      string
	RelayKey      string
	GoogleEnabled bool
	GoogleURL     string
}

// SettingsProvider returns the settings in effect for the next plan.
type SettingsProvider func() Settings

// KeySource lists stored API keys in insertion order.
type KeySource interface {
	List(ctx context.Context) ([]models.APIKey, error)
}

// ChannelSource lists custom channels keyed by name.
type ChannelSource interface {
	All(ctx context.Context) (map[string]models.Channel, error)
}

// Planner builds ordered endpoint lists.
type Planner struct {
	keys     KeySource
	channels ChannelSource
	settings SettingsProvider
}

// New constructs a Planner.
func New(keys KeySource, channels ChannelSource, settings SettingsProvider) *Planner {
	return &Planner{keys: keys, channels: channels, settings: settings}
}

// Plan returns the candidate endpoints for kind. Image plans list the relay
// first, then channels carrying an inline key, then active stored keys.
// Video plans group keys per channel. Store failures are logged and
// contribute no endpoints.
func (p *Planner) Plan(ctx context.Context, kind MediaKind) ([]Endpoint, error) {
	if p == nil {
		return nil, nil
	}
	var cfg Settings
	if p.settings != nil {
		cfg = p.settings()
	}

	channelsByName := p.loadChannels(ctx)
	keys := p.loadKeys(ctx)
	if errCtx := ctx.Err(); errCtx != nil {
		return nil, errCtx
	}

	names := make([]string, 0, len(channelsByName))
	for name := range channelsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	if kind == KindVideo {
		return planVideo(names, channelsByName, keys), nil
	}

	out := make([]Endpoint, 0, len(keys)+len(channelsByName)+1)

	if cfg.RelayEnabled && cfg.RelayEnabled && strings.TrimSpace(cfg.RelayURL) != "" {
		out = append(out, Endpoint{
			ChannelType: ChannelTypeRelay,
			URL:         strings.TrimSpace(cfg.RelayURL),
			Key:         strings.TrimSpace(cfg.RelayKey),
			Stream:      true,
			Relay:       true,
		})
	}

	for _, name := range names {
		ch := channelsByName[name]
		if !selectable(ch, kind) || strings.TrimSpace(ch.Key) == "" {
			continue
		}
		out = append(out, channelEndpoint(ch, strings.TrimSpace(ch.Key), true))
	}

	for _, key := range keys {
		if !key.IsActive() {
			continue
		}
		channelType := keystore.EffectiveType(key)
		if channelType == keystore.TypeGoogle {
			if cfg.GoogleEnabled && strings.TrimSpace(cfg.GoogleURL) != "" {
				out = append(out, Endpoint{
					ChannelType: keystore.TypeGoogle,
					URL:         strings.TrimSpace(cfg.GoogleURL),
					Key:         key.Value,
				})
			}
			continue
		}
		ch, ok := channelsByName[channelType]
		if !ok || !selectable(ch, kind) {
			continue
		}
		out = append(out, channelEndpoint(ch, key.Value, false))
	}
	return out, nil
}

// planVideo walks the video channels by name, each contributing its inline
// key followed by its own active stored keys.
func planVideo(names []string, channelsByName map[string]models.Channel, keys []models.APIKey) []Endpoint {
	var out []Endpoint
	for _, name := range names {
		ch := channelsByName[name]
		if !selectable(ch, KindVideo) {
			continue
		}
		found := 0
		if inline := strings.TrimSpace(ch.Key); inline != "" {
			out = append(out, channelEndpoint(ch, inline, true))
			found++
		}
		for _, key := range keys {
			if key.IsActive() && keystore.EffectiveType(key) == name {
				out = append(out, channelEndpoint(ch, key.Value, false))
				found++
			}
		}
		if found == 0 {
			log.WithField("channel", name).Warn("planner: video channel enabled but has no usable key")
		}
	}
	return out
}

func (p *Planner) loadChannels(ctx context.Context) map[string]models.Channel {
	if p.channels == nil {
		return nil
	}
	rows, errAll := p.channels.All(ctx)
	if errAll != nil {
		log.WithError(errAll).Warn("planner: load channels failed, ignoring custom channels")
		return nil
	}
	return rows
}

func (p *Planner) loadKeys(ctx context.Context) []models.APIKey {
	if p.keys == nil {
		return nil
	}
	rows, errList := p.keys.List(ctx)
	if errList != nil {
		log.WithError(errList).Warn("planner: load keys failed, ignoring stored keys")
		return nil
	}
	return rows
}

func selectable(ch models.Channel, kind MediaKind) bool {
	if !ch.Enabled || strings.TrimSpace(ch.URL) == "" {
		return false
	}
	return ch.IsVideo == (kind == KindVideo)
}

func channelEndpoint(ch models.Channel, key string, inline bool) Endpoint {
	return Endpoint{
		ChannelType: ch.Name,
		URL:         strings.TrimSpace(ch.URL),
		Key:         key,
		Model:       strings.TrimSpace(ch.Model),
		Stream:      ch.Stream,
		Inline:      inline,
	}
}
