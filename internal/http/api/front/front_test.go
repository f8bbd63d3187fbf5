package front

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/executor"
	"github.com/router-for-me/GeminiDrawer/internal/host"
	handlers "github.com/router-for-me/GeminiDrawer/internal/http/api/front/handlers"
	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	"github.com/router-for-me/GeminiDrawer/internal/planner"
	"github.com/router-for-me/GeminiDrawer/internal/prompts"
	"github.com/router-for-me/GeminiDrawer/internal/ratelimit"
	internalsettings "github.com/router-for-me/GeminiDrawer/internal/settings"
	"github.com/router-for-me/GeminiDrawer/internal/translator"
	"github.com/router-for-me/GeminiDrawer/internal/usage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

type fakeGenerator struct {
	mu     sync.Mutex
	calls  []translator.Request
	videos int
	err    error
}

func (g *fakeGenerator) Generate(_ context.Context, req translator.Request) (*executor.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &executor.Result{
		Media:    media.Media{Data: "aW1n", MIME: "image/png"},
		Attempts: 2,
		Elapsed:  1500 * time.Millisecond,
		Endpoint: planner.Endpoint{ChannelType: "google"},
	}, nil
}

func (g *fakeGenerator) GenerateVideo(_ context.Context, req translator.Request) (*executor.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	g.videos++
	if g.err != nil {
		return nil, g.err
	}
	return &executor.Result{
		Media:    media.Media{Data: "https://cdn.example/v.mp4", IsURL: true},
		Attempts: 1,
		Endpoint: planner.Endpoint{ChannelType: "doubao"},
	}, nil
}

type fakePresets struct {
	rows []models.PromptPreset
}

func (p *fakePresets) All(context.Context) ([]models.PromptPreset, error) {
	return p.rows, nil
}

func (p *fakePresets) Get(_ context.Context, name string) (*models.PromptPreset, error) {
	for _, row := range p.rows {
		if row.Name == name {
			found := row
			return &found, nil
		}
	}
	return nil, prompts.ErrNotFound
}

func (p *fakePresets) Random(context.Context) (*models.PromptPreset, error) {
	if len(p.rows) == 0 {
		return nil, prompts.ErrNoPresets
	}
	found := p.rows[len(p.rows)-1]
	return &found, nil
}

type fakeRecorder struct {
	entries []usage.Entry
}

func (r *fakeRecorder) Record(_ context.Context, entry usage.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type fakeSender struct {
	images [][]byte
	dest   host.Destination
}

func (s *fakeSender) SendText(context.Context, host.Destination, string) error { return nil }

func (s *fakeSender) SendImage(_ context.Context, dest host.Destination, data []byte) error {
	s.dest = dest
	s.images = append(s.images, data)
	return nil
}

func (s *fakeSender) SendVideo(context.Context, host.Destination, []byte) error { return nil }

type fixture struct {
	engine   *gin.Engine
	gen      *fakeGenerator
	recorder *fakeRecorder
	sender   *fakeSender
}

func newFixture(t *testing.T, cfg *config.Config, limiter handlers.Limiter) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = &config.Config{}
	}
	f := &fixture{gen: &fakeGenerator{}, recorder: &fakeRecorder{}, sender: &fakeSender{}}
	engine := gin.New()
	RegisterFrontRoutes(engine, Deps{
		Config:    cfg,
		Generator: f.gen,
		Presets: &fakePresets{rows: []models.PromptPreset{
			{Name: "figure", Text: "turn into a figure"},
			{Name: "plush", Text: "turn into a plush toy"},
		}},
		Limiter:  limiter,
		Recorder: f.recorder,
		Sender:   f.sender,
		Fetcher: host.FetcherFunc(func(context.Context, string) ([]byte, error) {
			return pngBytes, nil
		}),
	})
	f.engine = engine
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), errDecode)
	}
	return out
}

func inlineImage() string {
	return base64.StdEncoding.EncodeToString(pngBytes)
}

func TestDraw_ReturnsMediaAndRecords(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw", map[string]any{
		"prompt":   "make it blue",
		"images":   []string{inlineImage()},
		"user_id":  "1001",
		"group_id": "42",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["endpoint"] != "google" || out["attempts"].(float64) != 2 || out["elapsed_ms"].(float64) != 1500 {
		t.Fatalf("unexpected response: %v", out)
	}
	mediaOut, ok := out["media"].(map[string]any)
	if !ok || mediaOut["data"] != "aW1n" {
		t.Fatalf("media = %v", out["media"])
	}
	if len(f.gen.calls) != 1 || f.gen.calls[0].Prompt != "make it blue" || len(f.gen.calls[0].Images) != 1 {
		t.Fatalf("generator calls = %+v", f.gen.calls)
	}
	if f.gen.calls[0].Images[0].MIME != "image/png" {
		t.Fatalf("image mime = %q", f.gen.calls[0].Images[0].MIME)
	}
	if len(f.recorder.entries) != 1 {
		t.Fatalf("recorded %d entries", len(f.recorder.entries))
	}
	entry := f.recorder.entries[0]
	if !entry.Success || entry.Command != "draw" || entry.UserID != "1001" || entry.GroupID != "42" || entry.Endpoint != "google" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestDraw_RequiresPrompt(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw", map[string]any{"images": []string{inlineImage()}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.gen.calls) != 0 {
		t.Fatalf("generator should not run")
	}
}

func TestDraw_RequiresImageUnlessTextOnly(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw", map[string]any{"prompt": "a cat"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != host.ErrNoImage.Error() {
		t.Fatalf("error = %v", got)
	}

	rec = f.do(t, http.MethodPost, "/v1/draw", map[string]any{"prompt": "a cat", "text_only": true}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("text only status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestDraw_UsesSenderAvatar(t *testing.T) {
	cfg := &config.Config{OneBot: config.OneBotConfig{AvatarURL: "https://avatar.example/{user_id}"}}
	f := newFixture(t, cfg, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw", map[string]any{"prompt": "a cat", "user_id": "7"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(f.gen.calls[0].Images) != 1 {
		t.Fatalf("expected avatar image, got %d", len(f.gen.calls[0].Images))
	}
}

func TestDraw_SegmentsFlattenIntoPrompt(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw", map[string]any{
		"segments": []map[string]any{
			{"type": "text", "text": "make"},
			{"type": "list", "children": []map[string]any{
				{"type": "text", "text": "it red"},
				{"type": "image", "url": "https://img.example/a.png"},
			}},
		},
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := f.gen.calls[0].Prompt; got != "make it red" {
		t.Fatalf("prompt = %q", got)
	}
	if len(f.gen.calls[0].Images) != 1 {
		t.Fatalf("images = %d", len(f.gen.calls[0].Images))
	}
}

func TestDrawPreset(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw/presets/figure", map[string]any{"images": []string{inlineImage()}}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["preset"] != "figure" {
		t.Fatalf("preset missing: %s", rec.Body.String())
	}
	if got := f.gen.calls[0].Prompt; got != "turn into a figure" {
		t.Fatalf("prompt = %q", got)
	}

	rec = f.do(t, http.MethodPost, "/v1/draw/presets/missing", map[string]any{"images": []string{inlineImage()}}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing preset status = %d", rec.Code)
	}
}

func TestDrawRandom(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw/random", map[string]any{"images": []string{inlineImage()}}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["preset"] != "plush" {
		t.Fatalf("preset = %s", rec.Body.String())
	}
	if f.recorder.entries[0].Command != "random:plush" {
		t.Fatalf("command = %q", f.recorder.entries[0].Command)
	}
}

func TestDrawMulti_NeedsTwoImages(t *testing.T) {
	cfg := &config.Config{OneBot: config.OneBotConfig{AvatarURL: "https://avatar.example/{user_id}"}}
	f := newFixture(t, cfg, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw/multi", map[string]any{
		"prompt":  "merge",
		"images":  []string{inlineImage()},
		"user_id": "7",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/draw/multi", map[string]any{
		"prompt": "merge",
		"images": []string{inlineImage(), "https://img.example/b.png"},
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(f.gen.calls[0].Images) != 2 {
		t.Fatalf("images = %d", len(f.gen.calls[0].Images))
	}
}

func TestVideo_AllowsTextOnly(t *testing.T) {
	cfg := &config.Config{OneBot: config.OneBotConfig{AvatarURL: "https://avatar.example/{user_id}"}}
	f := newFixture(t, cfg, nil)
	rec := f.do(t, http.MethodPost, "/v1/video", map[string]any{"prompt": "waves", "user_id": "7"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if f.gen.videos != 1 || len(f.gen.calls[0].Images) != 0 {
		t.Fatalf("video calls = %d images = %d", f.gen.videos, len(f.gen.calls[0].Images))
	}
	if f.recorder.entries[0].Kind != models.GenerationKindVideo {
		t.Fatalf("kind = %q", f.recorder.entries[0].Kind)
	}
}

func TestDraw_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "no endpoints", err: executor.ErrNoEndpoints, status: http.StatusServiceUnavailable},
		{name: "exhausted", err: &executor.ExhaustedError{Attempts: 3, Elapsed: 2 * time.Second, Last: "API未返回图片"}, status: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			f.gen.err = tc.err
			rec := f.do(t, http.MethodPost, "/v1/draw", map[string]any{"prompt": "x", "text_only": true}, "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if got := decode(t, rec)["error"]; got != tc.err.Error() {
				t.Fatalf("error = %v", got)
			}
			entry := f.recorder.entries[0]
			if entry.Success || entry.Error == "" {
				t.Fatalf("entry = %+v", entry)
			}
		})
	}
}

func TestDraw_RateLimited(t *testing.T) {
	limiter := ratelimit.NewManager(func() ratelimit.SettingsConfig {
		return ratelimit.SettingsConfig{Limit: 1, Window: time.Minute}
	}, nil, nil)
	f := newFixture(t, nil, limiter)
	body := map[string]any{"prompt": "x", "text_only": true, "user_id": "9"}
	if rec := f.do(t, http.MethodPost, "/v1/draw", body, ""); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/v1/draw", body, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if len(f.gen.calls) != 1 {
		t.Fatalf("generator calls = %d", len(f.gen.calls))
	}
}

func TestDraw_AdminOnlyMode(t *testing.T) {
	internalsettings.StoreDBConfig(time.Now(), map[string]json.RawMessage{
		internalsettings.AdminOnlyModeKey: json.RawMessage(`true`),
	})
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Time{}, nil) })

	f := newFixture(t, &config.Config{Admins: []string{"1"}}, nil)
	body := map[string]any{"prompt": "x", "text_only": true, "user_id": "2"}
	if rec := f.do(t, http.MethodPost, "/v1/draw", body, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d", rec.Code)
	}
	body["user_id"] = "1"
	if rec := f.do(t, http.MethodPost, "/v1/draw", body, ""); rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}
}

func TestDraw_Deliver(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/draw", map[string]any{
		"prompt": "x", "text_only": true, "group_id": "42", "deliver": true,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["delivered"] != true || out["media"] != nil {
		t.Fatalf("response = %v", out)
	}
	if len(f.sender.images) != 1 || string(f.sender.images[0]) != "img" || f.sender.dest.GroupID != "42" {
		t.Fatalf("sender = %+v", f.sender)
	}
}

func TestAPIToken(t *testing.T) {
	f := newFixture(t, &config.Config{API: config.APIConfig{Token: "s3cret"}}, nil)
	if rec := f.do(t, http.MethodGet, "/v1/presets", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/presets", nil, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/v1/presets", nil, "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"figure"`) {
		t.Fatalf("presets = %s", rec.Body.String())
	}
}

func selfieConfig(t *testing.T, actions ...string) *config.Config {
	t.Helper()
	ref := filepath.Join(t.TempDir(), "me.png")
	if errWrite := os.WriteFile(ref, pngBytes, 0o600); errWrite != nil {
		t.Fatalf("write reference: %v", errWrite)
	}
	return &config.Config{Selfie: config.SelfieConfig{
		Enabled:        true,
		ReferenceImage: ref,
		BasePrompt:     "a girl with silver hair",
		RandomActions:  actions,
	}}
}

func TestSelfie_DrawsFromReferenceImage(t *testing.T) {
	f := newFixture(t, selfieConfig(t, "waving at the camera"), nil)
	rec := f.do(t, http.MethodPost, "/v1/selfie", map[string]any{"user_id": "1001", "group_id": "42"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(f.gen.calls) != 1 {
		t.Fatalf("expected one generation, got %d", len(f.gen.calls))
	}
	call := f.gen.calls[0]
	if call.Prompt != "a girl with silver hair, waving at the camera" {
		t.Fatalf("unexpected prompt %q", call.Prompt)
	}
	if len(call.Images) != 1 || !bytes.Equal(call.Images[0].Data, pngBytes) || call.Images[0].MIME != "image/png" {
		t.Fatalf("expected the reference image, got %+v", call.Images)
	}
	if len(f.recorder.entries) != 1 || f.recorder.entries[0].Command != "selfie" || f.recorder.entries[0].UserID != "1001" {
		t.Fatalf("unexpected record: %+v", f.recorder.entries)
	}
}

func TestSelfie_PicksAmongActionsAndAcceptsEmptyBody(t *testing.T) {
	actions := []string{"sitting in a cafe", "reading a book"}
	f := newFixture(t, selfieConfig(t, actions...), nil)
	for i := 0; i < 4; i++ {
		rec := f.do(t, http.MethodPost, "/v1/selfie", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
	}
	for _, call := range f.gen.calls {
		if call.Prompt != "a girl with silver hair, "+actions[0] && call.Prompt != "a girl with silver hair, "+actions[1] {
			t.Fatalf("prompt %q uses no configured action", call.Prompt)
		}
	}

	cfg := selfieConfig(t)
	cfg.Selfie.BasePrompt = ""
	f = newFixture(t, cfg, nil)
	if rec := f.do(t, http.MethodPost, "/v1/selfie", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if f.gen.calls[0].Prompt != config.DefaultSelfieAction {
		t.Fatalf("expected default action prompt, got %q", f.gen.calls[0].Prompt)
	}
}

func TestSelfie_DisabledAndMissingReference(t *testing.T) {
	f := newFixture(t, &config.Config{}, nil)
	rec := f.do(t, http.MethodPost, "/v1/selfie", nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if out := decode(t, rec); out["error"] != "虽然很想发，但是管理员没有开启自拍功能哦。" {
		t.Fatalf("unexpected disabled message: %v", out)
	}

	cfg := selfieConfig(t)
	cfg.Selfie.ReferenceImage = filepath.Join(t.TempDir(), "gone.png")
	f = newFixture(t, cfg, nil)
	rec = f.do(t, http.MethodPost, "/v1/selfie", nil, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(f.gen.calls) != 0 {
		t.Fatalf("generator must not run without a reference image")
	}
}
