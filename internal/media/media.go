package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/gif"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
)

const (
	defaultDownloadTimeout = 30 * time.Second
	maxDownloadBytes       = 64 << 20
)

// Media is a generated image or video, either inline base64 or a remote URL.
type Media struct {
	Data  string `json:"data"`
	IsURL bool   `json:"is_url"`
	MIME  string `json:"mime,omitempty"`
}

// Empty reports whether the media carries no payload.
func (m Media) Empty() bool {
	return strings.TrimSpace(m.Data) == ""
}

// SniffMIME detects the MIME type of image bytes from their magic bytes.
func SniffMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	}
	detected := mimetype.Detect(data)
	if detected != nil && strings.HasPrefix(detected.String(), "image/") {
		return detected.String()
	}
	return "image/jpeg"
}

// NormalizeGIF converts GIF input to a PNG of its first frame.
// Non-GIF input and undecodable GIFs are returned unchanged.
func NormalizeGIF(data []byte) []byte {
	if SniffMIME(data) != "image/gif" {
		return data
	}
	frame, errDecode := gif.Decode(bytes.NewReader(data))
	if errDecode != nil {
		log.WithError(errDecode).Warn("media: decode gif failed, using original bytes")
		return data
	}
	var buf bytes.Buffer
	if errEncode := png.Encode(&buf, frame); errEncode != nil {
		log.WithError(errEncode).Warn("media: encode png failed, using original bytes")
		return data
	}
	return buf.Bytes()
}

// NewHTTPClient builds a client with the given timeout, routed through proxyURL when set.
func NewHTTPClient(timeout time.Duration, proxyURL string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if trimmed := strings.TrimSpace(proxyURL); trimmed != "" {
		parsed, errParse := url.Parse(trimmed)
		if errParse != nil {
			log.WithError(errParse).Warn("media: invalid proxy url, connecting directly")
		} else {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Download fetches a remote resource within the download timeout.
func Download(ctx context.Context, rawURL, proxyURL string) ([]byte, error) {
	return download(ctx, NewHTTPClient(defaultDownloadTimeout, proxyURL), rawURL)
}

func download(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("media: download: empty url")
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if errReq != nil {
		return nil, fmt.Errorf("media: download: build request: %w", errReq)
	}
	resp, errDo := client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("media: download: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("media: close download body failed")
		}
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("media: download: unexpected status %d", resp.StatusCode)
	}
	data, errRead := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if errRead != nil {
		return nil, fmt.Errorf("media: download: read body: %w", errRead)
	}
	return data, nil
}

// Decode resolves media to raw bytes: URLs are downloaded, data URLs and
// bare base64 are decoded.
func Decode(ctx context.Context, m Media, proxyURL string) ([]byte, error) {
	data := strings.TrimSpace(m.Data)
	if data == "" {
		return nil, fmt.Errorf("media: decode: empty payload")
	}
	if m.IsURL || strings.HasPrefix(data, "http://") || strings.HasPrefix(data, "https://") {
		return Download(ctx, data, proxyURL)
	}
	return DecodeBase64(data)
}

// DecodeBase64 decodes a data URL or bare base64 string.
func DecodeBase64(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if _, after, found := strings.Cut(data, "base64,"); found {
		data = after
	}
	decoded, errDecode := base64.StdEncoding.DecodeString(data)
	if errDecode == nil {
		return decoded, nil
	}
	decoded, errRaw := base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
	if errRaw != nil {
		return nil, fmt.Errorf("media: decode base64: %w", errDecode)
	}
	return decoded, nil
}

// Mask hides all but the edges of a secret for logging.
func Mask(secret string) string {
	secret = strings.TrimSpace(secret)
	if len(secret) < 12 {
		return "········"
	}
	return secret[:8] + "········" + secret[len(secret)-4:]
}

// TruncateForLog shortens text to at most limit runes.
func TruncateForLog(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
