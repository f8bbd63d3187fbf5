package host

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/router-for-me/GeminiDrawer/internal/translator"
	log "github.com/sirupsen/logrus"
)

// minInlineImageLen is the shortest base64 payload treated as an inline image.
const minInlineImageLen = 200

// avatarPlaceholder is replaced by the user ID in avatar URL templates.
const avatarPlaceholder = "{user_id}"

// ErrNoImage is returned when an image is required but none could be resolved.
var ErrNoImage = errors.New("host: no reference image found")

// Segment is one piece of an incoming chat message.
type Segment interface {
	isSegment()
}

// Text is plain message text.
type Text struct {
	Text string
}

// Image is an attached picture given as bytes, a URL or a base64 string.
type Image struct {
	Data   []byte
	URL    string
	Base64 string
}

// At mentions a user.
type At struct {
	UserID string
}

// Emoji is a sticker. Stickers carrying base64 data are treated as images.
type Emoji struct {
	ID     string
	Base64 string
}

// List groups nested segments.
type List struct {
	Children []Segment
}

func (Text) isSegment()  {}
func (Image) isSegment() {}
func (At) isSegment()    {}
func (Emoji) isSegment() {}
func (List) isSegment()  {}

// Fetcher downloads remote images.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// DownloadFetcher fetches through media.Download with the given proxy.
func DownloadFetcher(proxyURL string) Fetcher {
	return FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return media.Download(ctx, url, proxyURL)
	})
}

// ResolveOptions controls how mentions and missing images are handled.
type ResolveOptions struct {
	// AvatarTemplate is an avatar URL containing {user_id}. Empty disables avatars.
	AvatarTemplate string
	// SenderID is used for the sender avatar fallback when no image is found.
	SenderID string
	// TextOnly disables the avatar fallbacks.
	TextOnly bool
}

// Resolved is the flattened draw input.
type Resolved struct {
	Prompt string
	Images []translator.Image
}

// AvatarURL renders the avatar URL of userID, or "" when no template is set.
func AvatarURL(template, userID string) string {
	template = strings.TrimSpace(template)
	userID = strings.TrimSpace(userID)
	if template == "" || userID == "" || userID == "all" {
		return ""
	}
	if !strings.Contains(template, avatarPlaceholder) {
		return template + userID
	}
	return strings.ReplaceAll(template, avatarPlaceholder, userID)
}

// Resolve flattens segments into prompt text and reference images.
// Attached images win; otherwise the first mention's avatar is used, then
// the sender's avatar unless TextOnly is set.
func Resolve(ctx context.Context, segments []Segment, fetcher Fetcher, opts ResolveOptions) (Resolved, error) {
	var (
		texts    []string
		images   []translator.Image
		mentions []string
	)
	var walk func(items []Segment) error
	walk = func(items []Segment) error {
		for _, item := range items {
			switch seg := item.(type) {
			case Text:
				if trimmed := strings.TrimSpace(seg.Text); trimmed != "" {
					texts = append(texts, trimmed)
				}
			case Image:
				data, errImage := imageBytes(ctx, seg, fetcher)
				if errImage != nil {
					log.WithError(errImage).Warn("host: skip unreadable image segment")
					continue
				}
				if len(data) > 0 {
					images = append(images, toImage(data))
				}
			case Emoji:
				if len(seg.Base64) <= minInlineImageLen {
					continue
				}
				data, errDecode := media.DecodeBase64(seg.Base64)
				if errDecode != nil {
					log.WithError(errDecode).Warn("host: skip undecodable emoji segment")
					continue
				}
				images = append(images, toImage(data))
			case At:
				if id := strings.TrimSpace(seg.UserID); id != "" {
					mentions = append(mentions, id)
				}
			case List:
				if errWalk := walk(seg.Children); errWalk != nil {
					return errWalk
				}
			case nil:
			default:
				return fmt.Errorf("host: unknown segment %T", item)
			}
		}
		return ctx.Err()
	}
	if errWalk := walk(segments); errWalk != nil {
		return Resolved{}, errWalk
	}

	out := Resolved{Prompt: strings.Join(texts, " "), Images: images}
	if len(out.Images) > 0 || opts.TextOnly {
		return out, nil
	}

	candidates := mentions
	if opts.SenderID != "" {
		candidates = append(candidates, opts.SenderID)
	}
	for _, userID := range candidates {
		avatar := AvatarURL(opts.AvatarTemplate, userID)
		if avatar == "" || fetcher == nil {
			continue
		}
		data, errFetch := fetcher.Fetch(ctx, avatar)
		if errFetch != nil {
			log.WithError(errFetch).WithField("user_id", userID).Warn("host: fetch avatar failed")
			continue
		}
		out.Images = append(out.Images, toImage(data))
		return out, nil
	}
	return out, nil
}

func imageBytes(ctx context.Context, seg Image, fetcher Fetcher) ([]byte, error) {
	switch {
	case len(seg.Data) > 0:
		return seg.Data, nil
	case strings.TrimSpace(seg.Base64) != "":
		return media.DecodeBase64(seg.Base64)
	case strings.TrimSpace(seg.URL) != "":
		if fetcher == nil {
			return nil, fmt.Errorf("host: no fetcher for %s", seg.URL)
		}
		return fetcher.Fetch(ctx, strings.TrimSpace(seg.URL))
	default:
		return nil, nil
	}
}

func toImage(data []byte) translator.Image {
	data = media.NormalizeGIF(data)
	return translator.Image{Data: data, MIME: media.SniffMIME(data)}
}
