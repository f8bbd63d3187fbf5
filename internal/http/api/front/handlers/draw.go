package handlers

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/executor"
	"github.com/router-for-me/GeminiDrawer/internal/host"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	"github.com/router-for-me/GeminiDrawer/internal/prompts"
	"github.com/router-for-me/GeminiDrawer/internal/ratelimit"
	internalsettings "github.com/router-for-me/GeminiDrawer/internal/settings"
	"github.com/router-for-me/GeminiDrawer/internal/translator"
	"github.com/router-for-me/GeminiDrawer/internal/usage"
	log "github.com/sirupsen/logrus"
)

// Generator runs the failover loop.
type Generator interface {
	Generate(ctx context.Context, req translator.Request) (*executor.Result, error)
	GenerateVideo(ctx context.Context, req translator.Request) (*executor.Result, error)
}

// PresetSource looks up prompt presets.
type PresetSource interface {
	All(ctx context.Context) ([]models.PromptPreset, error)
	Get(ctx context.Context, name string) (*models.PromptPreset, error)
	Random(ctx context.Context) (*models.PromptPreset, error)
}

// Limiter enforces per-user draw limits.
type Limiter interface {
	Check(ctx context.Context, userID, groupID string) error
}

// Recorder stores generation outcomes.
type Recorder interface {
	Record(ctx context.Context, entry usage.Entry) error
}

const (
	selfieDisabledMessage = "虽然很想发，但是管理员没有开启自拍功能哦。"
	selfieMissingMessage  = "糟糕，我找不到我的底图了，可能被管理员删掉了。"
)

// DrawHandler serves the draw and video endpoints.
type DrawHandler struct {
	cfg      *config.Config
	gen      Generator
	presets  PresetSource
	limiter  Limiter
	recorder Recorder
	sender   host.Sender
	fetcher  host.Fetcher
	pick     func(n int) int
}

// NewDrawHandler constructs a DrawHandler. Limiter, recorder and sender may be nil.
func NewDrawHandler(cfg *config.Config, gen Generator, presets PresetSource, limiter Limiter, recorder Recorder, sender host.Sender, fetcher host.Fetcher) *DrawHandler {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if fetcher == nil {
		fetcher = host.DownloadFetcher(cfg.ProxyURL())
	}
	return &DrawHandler{cfg: cfg, gen: gen, presets: presets, limiter: limiter, recorder: recorder, sender: sender, fetcher: fetcher, pick: rand.IntN}
}

// segmentJSON is the wire form of host.Segment.
type segmentJSON struct {
	Type     string        `json:"type"`
	Text     string        `json:"text"`
	URL      string        `json:"url"`
	Base64   string        `json:"base64"`
	UserID   string        `json:"user_id"`
	ID       string        `json:"id"`
	Children []segmentJSON `json:"children"`
}

func (s segmentJSON) toSegment() host.Segment {
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "text":
		return host.Text{Text: s.Text}
	case "image":
		return host.Image{URL: s.URL, Base64: s.Base64}
	case "at":
		return host.At{UserID: s.UserID}
	case "emoji", "face":
		return host.Emoji{ID: s.ID, Base64: s.Base64}
	case "list", "seglist":
		children := make([]host.Segment, 0, len(s.Children))
		for _, child := range s.Children {
			if seg := child.toSegment(); seg != nil {
				children = append(children, seg)
			}
		}
		return host.List{Children: children}
	default:
		return nil
	}
}

// drawRequest is the shared payload of every draw endpoint.
type drawRequest struct {
	Prompt   string        `json:"prompt"`
	Segments []segmentJSON `json:"segments"`
	Images   []string      `json:"images"`
	TextOnly bool          `json:"text_only"`
	UserID   string        `json:"user_id"`
	GroupID  string        `json:"group_id"`
	Deliver  bool          `json:"deliver"`

	reference []host.Segment
}

func (r drawRequest) segments() []host.Segment {
	out := make([]host.Segment, 0, len(r.Segments)+len(r.Images)+len(r.reference))
	out = append(out, r.reference...)
	for _, raw := range r.Segments {
		if seg := raw.toSegment(); seg != nil {
			out = append(out, seg)
		}
	}
	for _, image := range r.Images {
		image = strings.TrimSpace(image)
		switch {
		case image == "":
		case strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://"):
			out = append(out, host.Image{URL: image})
		default:
			out = append(out, host.Image{Base64: image})
		}
	}
	return out
}

// drawMode describes one endpoint's requirements.
type drawMode struct {
	video     bool
	command   string
	preset    string
	minImages int
}

// Draw generates an image from a prompt and reference images.
func (h *DrawHandler) Draw(c *gin.Context) {
	body, ok := bindDraw(c)
	if !ok {
		return
	}
	h.serve(c, body, drawMode{command: "draw", minImages: 1})
}

// DrawPreset generates an image from a named preset.
func (h *DrawHandler) DrawPreset(c *gin.Context) {
	body, ok := bindDraw(c)
	if !ok {
		return
	}
	preset, errGet := h.presets.Get(c.Request.Context(), c.Param("name"))
	if errGet != nil {
		if errors.Is(errGet, prompts.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query preset failed"})
		return
	}
	body.Prompt = joinPrompt(preset.Text, body.Prompt)
	h.serve(c, body, drawMode{command: preset.Name, preset: preset.Name, minImages: 1})
}

// DrawRandom generates an image from a randomly chosen preset.
func (h *DrawHandler) DrawRandom(c *gin.Context) {
	body, ok := bindDraw(c)
	if !ok {
		return
	}
	preset, errRandom := h.presets.Random(c.Request.Context())
	if errRandom != nil {
		if errors.Is(errRandom, prompts.ErrNoPresets) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no presets defined"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query presets failed"})
		return
	}
	body.Prompt = joinPrompt(preset.Text, body.Prompt)
	h.serve(c, body, drawMode{command: "random:" + preset.Name, preset: preset.Name, minImages: 1})
}

// DrawMulti generates an image from two or more reference images.
func (h *DrawHandler) DrawMulti(c *gin.Context) {
	body, ok := bindDraw(c)
	if !ok {
		return
	}
	body.TextOnly = false
	h.serve(c, body, drawMode{command: "multi", minImages: 2})
}

// Video generates a video. Reference images are optional.
func (h *DrawHandler) Video(c *gin.Context) {
	body, ok := bindDraw(c)
	if !ok {
		return
	}
	body.TextOnly = true
	h.serve(c, body, drawMode{video: true, command: "video"})
}

// Selfie draws the configured persona from its reference image, the base
// prompt and one randomly chosen action. The request body is optional and
// only carries the user, group and delivery fields.
func (h *DrawHandler) Selfie(c *gin.Context) {
	var body drawRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil && !errors.Is(errBind, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	selfie := h.cfg.Selfie
	if !selfie.Enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": selfieDisabledMessage})
		return
	}
	data, errRead := readReference(selfie.ReferenceImage)
	if errRead != nil {
		log.WithError(errRead).WithField("path", selfie.ReferenceImage).Warn("front: selfie reference image unavailable")
		c.JSON(http.StatusInternalServerError, gin.H{"error": selfieMissingMessage})
		return
	}

	action := config.DefaultSelfieAction
	if n := len(selfie.RandomActions); n > 0 {
		action = selfie.RandomActions[h.pickIndex(n)]
	}
	prompt := action
	if selfie.BasePrompt != "" {
		prompt = selfie.BasePrompt + ", " + action
	}

	h.serve(c, drawRequest{
		Prompt:    prompt,
		TextOnly:  true,
		UserID:    strings.TrimSpace(body.UserID),
		GroupID:   strings.TrimSpace(body.GroupID),
		Deliver:   body.Deliver,
		reference: []host.Segment{host.Image{Data: data}},
	}, drawMode{command: "selfie", minImages: 1})
}

func readReference(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("no reference image configured")
	}
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, errRead
	}
	if len(data) == 0 {
		return nil, errors.New("reference image is empty")
	}
	return data, nil
}

func (h *DrawHandler) pickIndex(n int) int {
	if h.pick == nil {
		return rand.IntN(n)
	}
	return h.pick(n)
}

// Presets lists preset names.
func (h *DrawHandler) Presets(c *gin.Context) {
	rows, errAll := h.presets.All(c.Request.Context())
	if errAll != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list presets failed"})
		return
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Name)
	}
	c.JSON(http.StatusOK, gin.H{"presets": names})
}

func bindDraw(c *gin.Context) (drawRequest, bool) {
	var body drawRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return drawRequest{}, false
	}
	body.UserID = strings.TrimSpace(body.UserID)
	body.GroupID = strings.TrimSpace(body.GroupID)
	return body, true
}

func joinPrompt(base, extra string) string {
	base = strings.TrimSpace(base)
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return base
	}
	return base + "\n" + extra
}

func (h *DrawHandler) serve(c *gin.Context, body drawRequest, mode drawMode) {
	ctx := c.Request.Context()

	if internalsettings.AdminOnly() && !h.cfg.IsAdmin(body.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only mode"})
		return
	}

	resolved, errResolve := host.Resolve(ctx, body.segments(), h.fetcher, host.ResolveOptions{
		AvatarTemplate: h.cfg.OneBot.AvatarURL,
		SenderID:       body.UserID,
		TextOnly:       body.TextOnly || mode.minImages > 1,
	})
	if errResolve != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errResolve.Error()})
		return
	}
	prompt := strings.TrimSpace(body.Prompt)
	if prompt == "" {
		prompt = resolved.Prompt
	}
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	required := mode.minImages
	if body.TextOnly && required == 1 {
		required = 0
	}
	if len(resolved.Images) < required {
		message := host.ErrNoImage.Error()
		if required > 1 {
			message = "at least 2 images are required"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return
	}

	if h.limiter != nil {
		if errLimit := h.limiter.Check(ctx, body.UserID, body.GroupID); errLimit != nil {
			var limitErr *ratelimit.LimitError
			if errors.As(errLimit, &limitErr) {
				for key, values := range limitErr.Headers() {
					for _, value := range values {
						c.Header(key, value)
					}
				}
				c.JSON(limitErr.StatusCode(), gin.H{"error": limitErr.Error(), "retry_after": limitErr.RetryAfter()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			return
		}
	}

	req := translator.Request{Prompt: prompt, Images: resolved.Images}
	var (
		res    *executor.Result
		errGen error
	)
	if mode.video {
		res, errGen = h.gen.GenerateVideo(ctx, req)
	} else {
		res, errGen = h.gen.Generate(ctx, req)
	}
	h.record(ctx, body, mode, res, errGen)

	if errGen != nil {
		var exhausted *executor.ExhaustedError
		switch {
		case errors.Is(errGen, executor.ErrNoEndpoints):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": executor.ErrNoEndpoints.Error()})
		case errors.As(errGen, &exhausted):
			c.JSON(http.StatusBadGateway, gin.H{"error": exhausted.Error(), "attempts": exhausted.Attempts})
		default:
			log.WithError(errGen).Warn("front: generation failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
		}
		return
	}

	out := gin.H{
		"attempts":   res.Attempts,
		"elapsed_ms": res.Elapsed.Milliseconds(),
		"endpoint":   res.Endpoint.Label(),
	}
	if mode.preset != "" {
		out["preset"] = mode.preset
	}
	if body.Deliver {
		dest := host.Destination{GroupID: body.GroupID, UserID: body.UserID}
		if errDeliver := host.Deliver(ctx, h.sender, dest, res.Media, mode.video, h.cfg.ProxyURL()); errDeliver != nil {
			log.WithError(errDeliver).Warn("front: deliver failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "deliver failed: " + errDeliver.Error()})
			return
		}
		out["delivered"] = true
		c.JSON(http.StatusOK, out)
		return
	}
	out["media"] = res.Media
	c.JSON(http.StatusOK, out)
}

func (h *DrawHandler) record(ctx context.Context, body drawRequest, mode drawMode, res *executor.Result, errGen error) {
	if h.recorder == nil {
		return
	}
	entry := usage.Entry{
		Kind:    models.GenerationKindImage,
		Command: mode.command,
		UserID:  body.UserID,
		GroupID: body.GroupID,
		Success: errGen == nil,
	}
	if mode.video {
		entry.Kind = models.GenerationKindVideo
	}
	if res != nil {
		entry.Attempts = res.Attempts
		entry.Elapsed = res.Elapsed
		entry.Endpoint = res.Endpoint.Label()
	}
	var exhausted *executor.ExhaustedError
	if errors.As(errGen, &exhausted) {
		entry.Attempts = exhausted.Attempts
		entry.Elapsed = exhausted.Elapsed
		entry.Error = exhausted.Last
	} else if errGen != nil {
		entry.Error = errGen.Error()
	}
	if errRecord := h.recorder.Record(ctx, entry); errRecord != nil {
		log.WithError(errRecord).Warn("front: record generation failed")
	}
}
