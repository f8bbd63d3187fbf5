package channels

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/GeminiDrawer/internal/db"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	"gorm.io/gorm"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewRegistry(conn)
}

func TestRegistry_CRUD(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	created, errCreate := reg.Create(ctx, models.Channel{Name: " doubao ", URL: "https://ark.example/api/v3/images/generations", Model: "seedream", Enabled: true})
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if created.Name != "doubao" || created.ID == 0 {
		t.Fatalf("unexpected created channel: %+v", created)
	}
	if _, errCreate = reg.Create(ctx, models.Channel{Name: "doubao", URL: "x"}); !errors.Is(errCreate, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", errCreate)
	}
	if _, errCreate = reg.Create(ctx, models.Channel{Name: "google", URL: "x"}); !errors.Is(errCreate, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName for reserved name, got %v", errCreate)
	}
	if _, errCreate = reg.Create(ctx, models.Channel{Name: "alpha", URL: "https://a.example/v1/chat/completions"}); errCreate != nil {
		t.Fatalf("create alpha: %v", errCreate)
	}

	list, errList := reg.List(ctx)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "doubao" {
		t.Fatalf("expected name order, got %+v", list)
	}
	all, errAll := reg.All(ctx)
	if errAll != nil || len(all) != 2 || all["doubao"].Model != "seedream" {
		t.Fatalf("unexpected all: %+v err=%v", all, errAll)
	}

	updated, errStream := reg.SetStream(ctx, "doubao", true)
	if errStream != nil || !updated.Stream {
		t.Fatalf("set stream: %+v err=%v", updated, errStream)
	}
	updated, errEnabled := reg.SetEnabled(ctx, "doubao", false)
	if errEnabled != nil || updated.Enabled {
		t.Fatalf("set enabled: %+v err=%v", updated, errEnabled)
	}
	updated, errVideo := reg.SetVideo(ctx, "doubao", true)
	if errVideo != nil || !updated.IsVideo || !updated.Stream {
		t.Fatalf("set video: %+v err=%v", updated, errVideo)
	}
	if _, errMissing := reg.SetStream(ctx, "missing", true); !errors.Is(errMissing, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errMissing)
	}

	updated, errUpdate := reg.Update(ctx, models.Channel{Name: "alpha", URL: "https://b.example/v1/chat/completions", Model: "m2", Enabled: true})
	if errUpdate != nil || updated.URL != "https://b.example/v1/chat/completions" || updated.Model != "m2" {
		t.Fatalf("update: %+v err=%v", updated, errUpdate)
	}

	ok, errDelete := reg.Delete(ctx, "alpha")
	if errDelete != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, errDelete)
	}
	ok, errDelete = reg.Delete(ctx, "alpha")
	if errDelete != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v", ok, errDelete)
	}
	if _, errGet := reg.Get(ctx, "alpha"); !errors.Is(errGet, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errGet)
	}
}

func TestRegistry_UpdateModelRewritesGeminiURL(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	if _, errCreate := reg.Create(ctx, models.Channel{
		Name:    "gem",
		URL:     "https://proxy.example/v1beta/models/gemini-2.0-flash:generateContent",
		Enabled: true,
	}); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	updated, errModel := reg.UpdateModel(ctx, "gem", "gemini-3-pro-image")
	if errModel != nil {
		t.Fatalf("update model: %v", errModel)
	}
	if updated.URL != "https://proxy.example/v1beta/models/gemini-3-pro-image:generateContent" {
		t.Fatalf("unexpected url: %s", updated.URL)
	}
	if updated.Model != "gemini-3-pro-image" {
		t.Fatalf("unexpected model: %s", updated.Model)
	}
}

func TestParseDefinition(t *testing.T) {
	cases := []struct {
		def       string
		wantURL   string
		wantModel string
		wantErr   error
	}{
		{def: "relay2:https://api.example/v1/chat/completions:gpt-image-1", wantURL: "https://api.example/v1/chat/completions", wantModel: "gpt-image-1"},
		{def: "ark:https://ark.example:8443/api/v3/images/generations:seedream", wantURL: "https://ark.example:8443/api/v3/images/generations", wantModel: "seedream"},
		{def: "gem:https://g.example/v1beta/models/gemini-x:generateContent", wantURL: "https://g.example/v1beta/models/gemini-x:generateContent"},
		{def: "bad:https://api.example/v1/chat/completions", wantErr: ErrMissingModel},
		{def: "bad:https://api.example/v1/completions:model", wantErr: ErrUnsupportedURL},
		{def: "noname", wantErr: ErrMalformedDefinition},
		{def: ":https://x/v1/chat/completions:m", wantErr: ErrMalformedDefinition},
	}
	for _, tc := range cases {
		ch, errParse := ParseDefinition(tc.def)
		if tc.wantErr != nil {
			if !errors.Is(errParse, tc.wantErr) {
				t.Fatalf("%s: expected %v, got %v", tc.def, tc.wantErr, errParse)
			}
			continue
		}
		if errParse != nil {
			t.Fatalf("%s: unexpected error %v", tc.def, errParse)
		}
		if ch.URL != tc.wantURL || ch.Model != tc.wantModel || !ch.Enabled {
			t.Fatalf("%s: unexpected channel %+v", tc.def, ch)
		}
	}
}
