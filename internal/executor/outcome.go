package executor

import (
	"fmt"
	"net/http"

	"github.com/router-for-me/GeminiDrawer/internal/media"
)

// OutcomeKind classifies one endpoint attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNoMedia is a 2xx response without extractable media, usually a content block.
	OutcomeNoMedia
	// OutcomeTransport covers connection failures, timeouts and broken streams.
	OutcomeTransport
	// OutcomeVendor is a non-2xx vendor response.
	OutcomeVendor
	// OutcomeSkipped marks an endpoint whose URL matches no dialect.
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoMedia:
		return "no_media"
	case OutcomeTransport:
		return "transport"
	case OutcomeVendor:
		return "vendor"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is the result of one endpoint attempt.
type Outcome struct {
	Kind       OutcomeKind
	Media      media.Media
	StatusCode int
	Body       string
	Err        error
	message    string
}

func success(m media.Media) Outcome {
	return Outcome{Kind: OutcomeSuccess, Media: m}
}

func noMedia(message string) Outcome {
	return Outcome{Kind: OutcomeNoMedia, message: message}
}

func transport(err error) Outcome {
	return Outcome{Kind: OutcomeTransport, Err: err}
}

func vendor(status int, body string) Outcome {
	return Outcome{Kind: OutcomeVendor, StatusCode: status, Body: body}
}

func skipped(err error) Outcome {
	return Outcome{Kind: OutcomeSkipped, Err: err}
}

// Failed reports whether the attempt counts against the key.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeNoMedia || o.Kind == OutcomeTransport || o.Kind == OutcomeVendor
}

// QuotaExhausted reports a vendor rejection that should disable the key at once.
func (o Outcome) QuotaExhausted() bool {
	return o.Kind == OutcomeVendor && o.StatusCode == http.StatusTooManyRequests
}

// Text renders the attempt error for users and logs.
func (o Outcome) Text() string {
	switch o.Kind {
	case OutcomeSuccess:
		return ""
	case OutcomeNoMedia:
		return o.message
	case OutcomeVendor:
		return fmt.Sprintf("API请求失败, 状态码: %d - %s", o.StatusCode, o.Body)
	default:
		if o.Err != nil {
			return o.Err.Error()
		}
		return o.Kind.String()
	}
}
