package host

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/media"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// defaultSendTimeout bounds one OneBot API call; video uploads can be large.
const defaultSendTimeout = 300 * time.Second

var (
	// ErrNoDestination is returned when neither a group nor a user is given.
	ErrNoDestination = errors.New("无法确定发送目标")
	// ErrNotConfigured is returned when no OneBot URL is configured.
	ErrNotConfigured = errors.New("host: onebot url not configured")
)

// Destination identifies a chat. GroupID wins over UserID.
type Destination struct {
	GroupID string
	UserID  string
}

// Sender delivers results back to the chat host.
type Sender interface {
	SendText(ctx context.Context, dest Destination, text string) error
	SendImage(ctx context.Context, dest Destination, data []byte) error
	SendVideo(ctx context.Context, dest Destination, data []byte) error
}

// OneBotSender posts messages to a OneBot v11 HTTP API such as NapCat.
type OneBotSender struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewOneBotSender builds a sender from cfg. A nil client gets a default one.
func NewOneBotSender(cfg config.OneBotConfig, client *http.Client) *OneBotSender {
	if client == nil {
		client = media.NewHTTPClient(defaultSendTimeout, "")
	}
	return &OneBotSender{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		token:   strings.TrimSpace(cfg.AccessToken),
		client:  client,
	}
}

type oneBotSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// SendText sends a text message.
func (s *OneBotSender) SendText(ctx context.Context, dest Destination, text string) error {
	return s.send(ctx, dest, oneBotSegment{Type: "text", Data: map[string]string{"text": text}})
}

// SendImage sends an image as an inline base64 file.
func (s *OneBotSender) SendImage(ctx context.Context, dest Destination, data []byte) error {
	return s.send(ctx, dest, fileSegment("image", data))
}

// SendVideo sends a video as an inline base64 file.
func (s *OneBotSender) SendVideo(ctx context.Context, dest Destination, data []byte) error {
	return s.send(ctx, dest, fileSegment("video", data))
}

func fileSegment(kind string, data []byte) oneBotSegment {
	return oneBotSegment{Type: kind, Data: map[string]string{"file": "base64://" + base64.StdEncoding.EncodeToString(data)}}
}

func (s *OneBotSender) send(ctx context.Context, dest Destination, segments ...oneBotSegment) error {
	if s == nil || s.baseURL == "" {
		return ErrNotConfigured
	}
	action, params, errTarget := buildTarget(dest)
	if errTarget != nil {
		return errTarget
	}
	params["message"] = segments
	payload, errMarshal := json.Marshal(params)
	if errMarshal != nil {
		return fmt.Errorf("host: marshal %s: %w", action, errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+action, bytes.NewReader(payload))
	if errReq != nil {
		return fmt.Errorf("host: build %s request: %w", action, errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, errDo := s.client.Do(req)
	if errDo != nil {
		return fmt.Errorf("host: %s: %w", action, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("host: close onebot response body")
		}
	}()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("host: %s: HTTP %d", action, resp.StatusCode)
	}
	result := gjson.ParseBytes(body)
	if result.Get("status").String() == "ok" || (result.Get("retcode").Exists() && result.Get("retcode").Int() == 0) {
		log.WithFields(log.Fields{"action": action, "type": segments[0].Type}).Info("host: message delivered")
		return nil
	}
	return fmt.Errorf("host: onebot returned error: %s", media.TruncateForLog(string(body), 500))
}

func buildTarget(dest Destination) (string, map[string]any, error) {
	if id := strings.TrimSpace(dest.GroupID); id != "" {
		return "send_group_msg", map[string]any{"group_id": chatID(id)}, nil
	}
	if id := strings.TrimSpace(dest.UserID); id != "" {
		return "send_private_msg", map[string]any{"user_id": chatID(id)}, nil
	}
	return "", nil, ErrNoDestination
}

// chatID sends numeric IDs as numbers, which OneBot implementations expect.
func chatID(id string) any {
	if n, errParse := strconv.ParseInt(id, 10, 64); errParse == nil {
		return n
	}
	return id
}

// Deliver resolves m to bytes and sends it as an image or video.
func Deliver(ctx context.Context, sender Sender, dest Destination, m media.Media, video bool, proxyURL string) error {
	if sender == nil {
		return ErrNotConfigured
	}
	data, errDecode := media.Decode(ctx, m, proxyURL)
	if errDecode != nil {
		return fmt.Errorf("host: resolve media: %w", errDecode)
	}
	if video {
		return sender.SendVideo(ctx, dest, data)
	}
	return sender.SendImage(ctx, dest, data)
}
