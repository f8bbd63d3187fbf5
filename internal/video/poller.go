package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/media"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const maxTaskBodyBytes = 4 << 20

var (
	// ErrNoTaskID is returned when task creation succeeds without an id.
	ErrNoTaskID = errors.New("未获取到任务ID")
	// ErrTimeout is returned when the poll budget runs out.
	ErrTimeout = errors.New("任务超时")
	// ErrNoVideo is returned when a task succeeds without a video URL.
	ErrNoVideo = errors.New("任务完成但未返回视频")
)

// StatusError reports a non-2xx task creation response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("创建任务失败: %d - %s", e.StatusCode, e.Body)
}

// TaskFailedError reports a task the vendor marked as failed.
type TaskFailedError struct {
	Message string
}

func (e *TaskFailedError) Error() string {
	return "任务失败: " + e.Message
}

// Poller creates asynchronous video tasks and waits for their result.
type Poller struct {
	client   *http.Client
	interval time.Duration
	maxPolls int
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPoller constructs a Poller. Zero values fall back to defaults.
func NewPoller(client *http.Client, interval time.Duration, maxPolls int) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	if maxPolls <= 0 {
		maxPolls = config.DefaultMaxPolls
	}
	return &Poller{client: client, interval: interval, maxPolls: maxPolls, sleep: sleepContext}
}

// Run posts body to taskURL, then polls taskURL/<id> until the task settles.
func (p *Poller) Run(ctx context.Context, taskURL string, header http.Header, body []byte) (media.Media, error) {
	if p == nil {
		return media.Media{}, errors.New("video: nil poller")
	}
	taskURL = strings.TrimRight(strings.TrimSpace(taskURL), "/")

	status, respBody, errCreate := p.do(ctx, http.MethodPost, taskURL, header, body)
	if errCreate != nil {
		return media.Media{}, errCreate
	}
	if status < 200 || status >= 300 {
		return media.Media{}, &StatusError{StatusCode: status, Body: string(respBody)}
	}
	taskID := strings.TrimSpace(gjson.GetBytes(respBody, "id").String())
	if taskID == "" {
		return media.Media{}, ErrNoTaskID
	}
	log.WithField("task_id", taskID).Info("video: task created")

	pollURL := taskURL + "/" + taskID
	for i := 0; i < p.maxPolls; i++ {
		if errSleep := p.sleep(ctx, p.interval); errSleep != nil {
			return media.Media{}, errSleep
		}
		status, respBody, errPoll := p.do(ctx, http.MethodGet, pollURL, header, nil)
		if errPoll != nil {
			if ctx.Err() != nil {
				return media.Media{}, ctx.Err()
			}
			log.WithError(errPoll).WithField("task_id", taskID).Debug("video: poll failed")
			continue
		}
		if status != http.StatusOK {
			continue
		}
		switch gjson.GetBytes(respBody, "status").String() {
		case "succeeded":
			content := gjson.GetBytes(respBody, "content")
			if content.IsArray() {
				content = content.Get("0")
			}
			videoURL := content.Get("video_url").String()
			if videoURL == "" {
				videoURL = content.Get("url").String()
			}
			if videoURL == "" {
				return media.Media{}, ErrNoVideo
			}
			return media.Media{Data: videoURL, IsURL: true, MIME: "video/mp4"}, nil
		case "failed":
			message := gjson.GetBytes(respBody, "error.message").String()
			if message == "" {
				message = "未知错误"
			}
			return media.Media{}, &TaskFailedError{Message: message}
		}
	}
	return media.Media{}, ErrTimeout
}

func (p *Poller) do(ctx context.Context, method, target string, header http.Header, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, errReq := http.NewRequestWithContext(ctx, method, target, reader)
	if errReq != nil {
		return 0, nil, fmt.Errorf("video: build request: %w", errReq)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return 0, nil, fmt.Errorf("video: %s %s: %w", method, target, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("video: close response body")
		}
	}()
	data, errRead := io.ReadAll(io.LimitReader(resp.Body, maxTaskBodyBytes))
	if errRead != nil {
		return 0, nil, fmt.Errorf("video: read response: %w", errRead)
	}
	return resp.StatusCode, data, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
