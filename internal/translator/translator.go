package translator

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/router-for-me/GeminiDrawer/internal/planner"
	"github.com/tidwall/sjson"
)

// ErrUnsupportedEndpoint is returned for endpoint URLs that match no dialect.
// Callers skip such endpoints without penalising the key.
var ErrUnsupportedEndpoint = errors.New("translator: unrecognised endpoint url")

// Dialect identifies the vendor request shape.
type Dialect int

const (
	DialectOpenAI Dialect = iota
	DialectDoubao
	DialectGemini
	DialectDoubaoTask
)

func (d Dialect) String() string {
	switch d {
	case DialectOpenAI:
		return "openai"
	case DialectDoubao:
		return "doubao"
	case DialectGemini:
		return "gemini"
	case DialectDoubaoTask:
		return "doubao-task"
	default:
		return "unknown"
	}
}

// Default models used when neither the endpoint nor the config names one.
const (
	DefaultDoubaoImageModel = "doubao-seedream-4-5-251128"
	DefaultDoubaoVideoModel = "doubao-seedance-1-5-pro-251215"
	DefaultVideoModel       = "video-preview"
)

const doubaoPromptPrefix = "Prompt: "

// Image is one reference image.
type Image struct {
	Data []byte
	MIME string
}

// Request is the vendor-neutral generation request.
type Request struct {
	Prompt string
	Images []Image
}

// Options carries model fallbacks.
type Options struct {
	RelayModel   string
	DefaultModel string
}

// Call is a ready-to-send vendor request.
type Call struct {
	URL         string
	Header      http.Header
	Body        []byte
	Dialect     Dialect
	Stream      bool
	BypassProxy bool
}

// Build translates req into the dialect spoken by ep.
func Build(ep planner.Endpoint, req Request, opts Options) (*Call, error) {
	images := encodeImages(req.Images)
	switch {
	case ep.Relay:
		model := firstNonEmpty(ep.Model, opts.RelayModel, config.DefaultRelayModel)
		body, errBody := openAIBody(model, req.Prompt, images, true)
		if errBody != nil {
			return nil, errBody
		}
		return &Call{URL: ep.URL, Header: jsonHeader(ep.Key), Body: body, Dialect: DialectOpenAI, Stream: true, BypassProxy: true}, nil
	case strings.Contains(ep.URL, "/chat/completions"):
		model := firstNonEmpty(ep.Model, opts.DefaultModel, config.DefaultModel)
		body, errBody := openAIBody(model, req.Prompt, images, ep.Stream)
		if errBody != nil {
			return nil, errBody
		}
		return &Call{URL: ep.URL, Header: jsonHeader(ep.Key), Body: body, Dialect: DialectOpenAI, Stream: ep.Stream}, nil
	case strings.Contains(ep.URL, "/images/generations"):
		model := firstNonEmpty(ep.Model, DefaultDoubaoImageModel)
		body, errBody := doubaoBody(model, req.Prompt, images)
		if errBody != nil {
			return nil, errBody
		}
		return &Call{URL: ep.URL, Header: jsonHeader(ep.Key), Body: body, Dialect: DialectDoubao}, nil
	case strings.Contains(ep.URL, "generateContent"):
		requestURL, errURL := withKeyParam(ep.URL, ep.Key)
		if errURL != nil {
			return nil, errURL
		}
		body, errBody := geminiBody(req.Prompt, images, true)
		if errBody != nil {
			return nil, errBody
		}
		return &Call{URL: requestURL, Header: jsonHeader(""), Body: body, Dialect: DialectGemini, Stream: ep.Stream}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, ep.URL)
	}
}

// BuildVideo translates req into a video generation call for ep.
func BuildVideo(ep planner.Endpoint, req Request, _ Options) (*Call, error) {
	images := encodeImages(req.Images)
	switch {
	case IsDoubaoTaskURL(ep.URL):
		model := firstNonEmpty(ep.Model, DefaultDoubaoVideoModel)
		body, errBody := doubaoTaskBody(model, req.Prompt, images)
		if errBody != nil {
			return nil, errBody
		}
		return &Call{URL: ep.URL, Header: jsonHeader(ep.Key), Body: body, Dialect: DialectDoubaoTask}, nil
	case strings.Contains(ep.URL, "/chat/completions"):
		model := firstNonEmpty(ep.Model, DefaultVideoModel)
		body, errBody := openAIBody(model, req.Prompt, images, ep.Stream)
		if errBody != nil {
			return nil, errBody
		}
		return &Call{URL: ep.URL, Header: jsonHeader(ep.Key), Body: body, Dialect: DialectOpenAI, Stream: ep.Stream, BypassProxy: ep.Relay}, nil
	case strings.Contains(ep.URL, "generateContent"):
		requestURL, errURL := withKeyParam(ep.URL, ep.Key)
		if errURL != nil {
			return nil, errURL
		}
		body, errBody := geminiBody(req.Prompt, images, false)
		if errBody != nil {
			return nil, errBody
		}
		return &Call{URL: requestURL, Header: jsonHeader(""), Body: body, Dialect: DialectGemini}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, ep.URL)
	}
}

// IsDoubaoTaskURL reports whether rawURL is an asynchronous video task API.
func IsDoubaoTaskURL(rawURL string) bool {
	return strings.Contains(rawURL, "volces.com") || strings.Contains(rawURL, "/contents/generations/tasks")
}

type encodedImage struct {
	mime string
	data string
}

func encodeImages(images []Image) []encodedImage {
	out := make([]encodedImage, 0, len(images))
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		mime := strings.TrimSpace(img.MIME)
		if mime == "" {
			mime = media.SniffMIME(img.Data)
		}
		out = append(out, encodedImage{mime: mime, data: base64.StdEncoding.EncodeToString(img.Data)})
	}
	return out
}

func (e encodedImage) dataURL() string {
	return "data:" + e.mime + ";base64," + e.data
}

func jsonHeader(bearer string) http.Header {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	if bearer = strings.TrimSpace(bearer); bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}
	return header
}

func withKeyParam(rawURL, key string) (string, error) {
	parsed, errParse := url.Parse(rawURL)
	if errParse != nil {
		return "", fmt.Errorf("translator: parse url: %w", errParse)
	}
	query := parsed.Query()
	query.Set("key", key)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func openAIBody(model, prompt string, images []encodedImage, stream bool) ([]byte, error) {
	body := []byte(`{"messages":[{"role":"user","content":[]}]}`)
	var errSet error
	if body, errSet = sjson.SetBytes(body, "model", model); errSet != nil {
		return nil, fmt.Errorf("translator: openai model: %w", errSet)
	}
	textPart, _ := sjson.Set(`{"type":"text"}`, "text", prompt)
	if body, errSet = sjson.SetRawBytes(body, "messages.0.content.-1", []byte(textPart)); errSet != nil {
		return nil, fmt.Errorf("translator: openai text: %w", errSet)
	}
	for _, img := range images {
		imagePart, _ := sjson.Set(`{"type":"image_url"}`, "image_url.url", img.dataURL())
		if body, errSet = sjson.SetRawBytes(body, "messages.0.content.-1", []byte(imagePart)); errSet != nil {
			return nil, fmt.Errorf("translator: openai image: %w", errSet)
		}
	}
	if body, errSet = sjson.SetBytes(body, "stream", stream); errSet != nil {
		return nil, fmt.Errorf("translator: openai stream: %w", errSet)
	}
	return body, nil
}

func doubaoBody(model, prompt string, images []encodedImage) ([]byte, error) {
	prompt = strings.TrimPrefix(prompt, doubaoPromptPrefix)
	body := []byte(`{"response_format":"url","size":"2k","stream":false,"watermark":false}`)
	var errSet error
	if body, errSet = sjson.SetBytes(body, "model", model); errSet != nil {
		return nil, fmt.Errorf("translator: doubao model: %w", errSet)
	}
	if body, errSet = sjson.SetBytes(body, "prompt", prompt); errSet != nil {
		return nil, fmt.Errorf("translator: doubao prompt: %w", errSet)
	}
	switch len(images) {
	case 0:
	case 1:
		body, errSet = sjson.SetBytes(body, "image", images[0].dataURL())
	default:
		urls := make([]string, 0, len(images))
		for _, img := range images {
			urls = append(urls, img.dataURL())
		}
		body, errSet = sjson.SetBytes(body, "image", urls)
	}
	if errSet != nil {
		return nil, fmt.Errorf("translator: doubao image: %w", errSet)
	}
	return body, nil
}

func doubaoTaskBody(model, prompt string, images []encodedImage) ([]byte, error) {
	body := []byte(`{"content":[]}`)
	var errSet error
	if body, errSet = sjson.SetBytes(body, "model", model); errSet != nil {
		return nil, fmt.Errorf("translator: video task model: %w", errSet)
	}
	textPart, _ := sjson.Set(`{"type":"text"}`, "text", prompt)
	if body, errSet = sjson.SetRawBytes(body, "content.-1", []byte(textPart)); errSet != nil {
		return nil, fmt.Errorf("translator: video task text: %w", errSet)
	}
	for _, img := range images {
		imagePart, _ := sjson.Set(`{"type":"image_url"}`, "image_url.url", img.dataURL())
		if body, errSet = sjson.SetRawBytes(body, "content.-1", []byte(imagePart)); errSet != nil {
			return nil, fmt.Errorf("translator: video task image: %w", errSet)
		}
	}
	return body, nil
}

func geminiBody(prompt string, images []encodedImage, safety bool) ([]byte, error) {
	body := []byte(`{"contents":[{"parts":[]}]}`)
	var errSet error
	labelled := len(images) > 1
	for i, img := range images {
		if labelled {
			label, _ := sjson.Set(`{}`, "text", fmt.Sprintf("Image %d:", i+1))
			if body, errSet = sjson.SetRawBytes(body, "contents.0.parts.-1", []byte(label)); errSet != nil {
				return nil, fmt.Errorf("translator: gemini label: %w", errSet)
			}
		}
		part, _ := sjson.Set(`{}`, "inline_data.mime_type", img.mime)
		part, _ = sjson.Set(part, "inline_data.data", img.data)
		if body, errSet = sjson.SetRawBytes(body, "contents.0.parts.-1", []byte(part)); errSet != nil {
			return nil, fmt.Errorf("translator: gemini image: %w", errSet)
		}
	}
	textPart, _ := sjson.Set(`{}`, "text", prompt)
	if body, errSet = sjson.SetRawBytes(body, "contents.0.parts.-1", []byte(textPart)); errSet != nil {
		return nil, fmt.Errorf("translator: gemini text: %w", errSet)
	}
	if safety {
		body, errSet = sjson.SetRawBytes(body, "safetySettings", []byte(`[{"category":"HARM_CATEGORY_SEXUALLY_EXPLICIT","threshold":"BLOCK_NONE"}]`))
		if errSet != nil {
			return nil, fmt.Errorf("translator: gemini safety: %w", errSet)
		}
	}
	return body, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
