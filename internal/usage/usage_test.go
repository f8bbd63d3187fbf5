package usage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/GeminiDrawer/internal/db"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	"gorm.io/gorm"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewRecorder(conn)
}

func TestRecord_PersistsAndTruncates(t *testing.T) {
	rec := openTestRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry := Entry{
		Kind:     models.GenerationKindVideo,
		Command:  "手办化",
		UserID:   "10001",
		GroupID:  "20002",
		Attempts: 3,
		Endpoint: "custom_doubao",
		Elapsed:  1500 * time.Millisecond,
		Error:    strings.Repeat("错", 1200),
	}
	if errRecord := rec.Record(ctx, entry); errRecord != nil {
		t.Fatalf("record with cancelled ctx: %v", errRecord)
	}

	rows, errList := rec.List(context.Background(), Filter{})
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	row := rows[0]
	if row.Kind != models.GenerationKindVideo || row.ElapsedMs != 1500 || row.Attempts != 3 || row.Success {
		t.Fatalf("row = %+v", row)
	}
	if utf8.RuneCountInString(row.LastError) != lastErrorLimit+len("...") {
		t.Fatalf("last error runes = %d", utf8.RuneCountInString(row.LastError))
	}
}

func TestList_FiltersAndOrders(t *testing.T) {
	rec := openTestRecorder(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if errRecord := rec.Record(ctx, Entry{Command: fmt.Sprintf("c%d", i), Success: i%2 == 0, UserID: "u"}); errRecord != nil {
			t.Fatalf("record: %v", errRecord)
		}
	}
	ok := true
	rows, errList := rec.List(ctx, Filter{Success: &ok, Limit: 10})
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(rows) != 2 || rows[0].Command != "c2" || rows[1].Command != "c0" {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Kind != models.GenerationKindImage {
		t.Fatalf("default kind = %q", rows[0].Kind)
	}

	summary, errSum := rec.Summarize(ctx)
	if errSum != nil {
		t.Fatalf("summarize: %v", errSum)
	}
	if summary.Total != 4 || summary.Succeeded != 2 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var rec *Recorder
	if errRecord := rec.Record(context.Background(), Entry{}); errRecord == nil {
		t.Fatalf("expected error from nil recorder")
	}
}
