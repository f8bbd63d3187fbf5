package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/extractor"
	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/router-for-me/GeminiDrawer/internal/planner"
	"github.com/router-for-me/GeminiDrawer/internal/translator"
	"github.com/router-for-me/GeminiDrawer/internal/video"
	log "github.com/sirupsen/logrus"
)

const (
	maxResponseBytes  = 256 << 20
	maxErrorBodyBytes = 1 << 20
	errorBodyLogLimit = 500

	msgNoImage       = "API未返回图片"
	msgStreamNoImage = "审核不通过，未能从API响应中获取图片数据"
	msgNoVideo       = "API未返回视频"
)

// ErrNoEndpoints is returned when the plan is empty.
var ErrNoEndpoints = errors.New("no api keys or endpoints configured")

// ExhaustedError reports that every planned endpoint failed.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("❌ 生成失败 (%.2fs, %d次尝试)\n最终错误: %s", e.Elapsed.Seconds(), e.Attempts, e.Last)
}

// EndpointPlanner produces the ordered endpoints for a request.
type EndpointPlanner interface {
	Plan(ctx context.Context, kind planner.MediaKind) ([]planner.Endpoint, error)
}

// KeyRecorder records per-key attempt outcomes.
type KeyRecorder interface {
	RecordUsage(ctx context.Context, value string, success, forceDisable bool) error
}

// Options configures outbound calls.
type Options struct {
	Models         translator.Options
	ProxyURL       string
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
	VideoTimeout   time.Duration
	AttemptDelay   time.Duration
	PollInterval   time.Duration
	MaxPolls       int
}

// Result is a successful generation.
type Result struct {
	Media    media.Media
	Attempts int
	Elapsed  time.Duration
	Endpoint planner.Endpoint
}

// Executor runs the failover loop over planned endpoints.
type Executor struct {
	planner   EndpointPlanner
	keys      KeyRecorder
	opts      Options
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	newClient func(timeout time.Duration, proxyURL string) *http.Client
}

// New constructs an Executor. Zero timeouts fall back to defaults.
func New(p EndpointPlanner, keys KeyRecorder, opts Options) *Executor {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = config.DefaultRequestTimeout
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = config.DefaultStreamTimeout
	}
	if opts.VideoTimeout <= 0 {
		opts.VideoTimeout = config.DefaultVideoTimeout
	}
	if opts.AttemptDelay < 0 {
		opts.AttemptDelay = 0
	}
	return &Executor{
		planner:   p,
		keys:      keys,
		opts:      opts,
		sleep:     sleepContext,
		now:       time.Now,
		newClient: media.NewHTTPClient,
	}
}

// Generate produces an image for req.
func (e *Executor) Generate(ctx context.Context, req translator.Request) (*Result, error) {
	return e.run(ctx, planner.KindImage, req)
}

// GenerateVideo produces a video for req.
func (e *Executor) GenerateVideo(ctx context.Context, req translator.Request) (*Result, error) {
	return e.run(ctx, planner.KindVideo, req)
}

func (e *Executor) run(ctx context.Context, kind planner.MediaKind, req translator.Request) (*Result, error) {
	if e == nil || e.planner == nil {
		return nil, ErrNoEndpoints
	}
	start := e.now()
	endpoints, errPlan := e.planner.Plan(ctx, kind)
	if errPlan != nil {
		return nil, fmt.Errorf("executor: plan: %w", errPlan)
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	lastError := ""
	for i, ep := range endpoints {
		if errCtx := ctx.Err(); errCtx != nil {
			return nil, errCtx
		}
		entry := log.WithFields(log.Fields{
			"kind":     kind.String(),
			"attempt":  i + 1,
			"total":    len(endpoints),
			"endpoint": ep.Label(),
			"key":      media.Mask(ep.Key),
		})
		entry.Info("executor: trying endpoint")

		var outcome Outcome
		if kind == planner.KindVideo {
			outcome = e.attemptVideo(ctx, ep, req)
		} else {
			outcome = e.attemptImage(ctx, ep, req)
		}

		if outcome.Kind == OutcomeSuccess {
			if !ep.Relay {
				e.record(ctx, ep, true, false)
			}
			elapsed := e.now().Sub(start)
			entry.WithField("elapsed", elapsed.Round(time.Millisecond)).Info("executor: endpoint succeeded")
			return &Result{Media: outcome.Media, Attempts: i + 1, Elapsed: elapsed, Endpoint: ep}, nil
		}

		lastError = outcome.Text()
		if !outcome.Failed() {
			entry.WithError(outcome.Err).Warn("executor: endpoint skipped")
			continue
		}
		entry.WithFields(log.Fields{
			"outcome": outcome.Kind.String(),
			"status":  outcome.StatusCode,
			"error":   media.TruncateForLog(lastError, errorBodyLogLimit),
		}).Warn("executor: endpoint failed")
		if !ep.Relay {
			e.record(ctx, ep, false, outcome.QuotaExhausted())
		}
		if i < len(endpoints)-1 && e.opts.AttemptDelay > 0 {
			if errSleep := e.sleep(ctx, e.opts.AttemptDelay); errSleep != nil {
				return nil, errSleep
			}
		}
	}

	return nil, &ExhaustedError{Attempts: len(endpoints), Elapsed: e.now().Sub(start), Last: lastError}
}

func (e *Executor) record(ctx context.Context, ep planner.Endpoint, ok, forceDisable bool) {
	if e.keys == nil || ep.Key == "" {
		return
	}
	if errRecord := e.keys.RecordUsage(ctx, ep.Key, ok, forceDisable); errRecord != nil {
		log.WithError(errRecord).WithField("key", media.Mask(ep.Key)).Warn("executor: record key usage failed")
	}
}

func (e *Executor) attemptImage(ctx context.Context, ep planner.Endpoint, req translator.Request) Outcome {
	call, errBuild := translator.Build(ep, req, e.opts.Models)
	if errBuild != nil {
		if errors.Is(errBuild, translator.ErrUnsupportedEndpoint) {
			return skipped(fmt.Errorf("无法识别的API地址格式: %s", ep.URL))
		}
		return transport(errBuild)
	}
	timeout := e.opts.RequestTimeout
	if call.Stream {
		timeout = e.opts.StreamTimeout
	}
	return e.send(ctx, call, timeout, extractor.KindImage)
}

func (e *Executor) attemptVideo(ctx context.Context, ep planner.Endpoint, req translator.Request) Outcome {
	call, errBuild := translator.BuildVideo(ep, req, e.opts.Models)
	if errBuild != nil {
		if errors.Is(errBuild, translator.ErrUnsupportedEndpoint) {
			return skipped(fmt.Errorf("无法识别的视频API地址格式: %s", ep.URL))
		}
		return transport(errBuild)
	}
	if call.Dialect != translator.DialectDoubaoTask {
		return e.send(ctx, call, e.opts.VideoTimeout, extractor.KindVideo)
	}

	poller := video.NewPoller(e.client(e.opts.RequestTimeout, call.BypassProxy), e.opts.PollInterval, e.opts.MaxPolls)
	m, errRun := poller.Run(ctx, call.URL, call.Header, call.Body)
	if errRun == nil {
		return success(m)
	}
	var statusErr *video.StatusError
	switch {
	case errors.As(errRun, &statusErr):
		return vendor(statusErr.StatusCode, statusErr.Body)
	case errors.Is(errRun, video.ErrNoVideo):
		return noMedia(msgNoVideo)
	default:
		return transport(errRun)
	}
}

func (e *Executor) client(timeout time.Duration, bypassProxy bool) *http.Client {
	proxyURL := e.opts.ProxyURL
	if bypassProxy {
		proxyURL = ""
	}
	return e.newClient(timeout, proxyURL)
}

func (e *Executor) send(ctx context.Context, call *translator.Call, timeout time.Duration, kind extractor.Kind) Outcome {
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, call.URL, bytes.NewReader(call.Body))
	if errReq != nil {
		return transport(fmt.Errorf("executor: build request: %w", errReq))
	}
	httpReq.Header = call.Header.Clone()
	if call.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, errDo := e.client(timeout, call.BypassProxy).Do(httpReq)
	if errDo != nil {
		return transport(errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("executor: close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return vendor(resp.StatusCode, string(body))
	}

	if call.Stream {
		m, ok, errStream := extractor.Stream(resp.Body, kind)
		if errStream != nil {
			return transport(errStream)
		}
		if !ok {
			if kind == extractor.KindVideo {
				return noMedia(msgNoVideo)
			}
			return noMedia(msgStreamNoImage)
		}
		return success(m)
	}

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return transport(fmt.Errorf("executor: read response: %w", errRead))
	}
	var (
		m  media.Media
		ok bool
	)
	if kind == extractor.KindVideo {
		m, ok = extractor.Video(body)
	} else {
		m, ok = extractor.Image(body)
	}
	if !ok {
		if kind == extractor.KindVideo {
			return noMedia(msgNoVideo)
		}
		return noMedia(msgNoImage)
	}
	return success(m)
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
