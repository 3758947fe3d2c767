package site

import (
	"strings"
	"sync"
	"testing"

	"github.com/zulandar/siteyard/internal/apperr"
	"github.com/zulandar/siteyard/internal/db"
	"github.com/zulandar/siteyard/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	return gdb
}

func strp(s string) *string { return &s }

func insert(t *testing.T, gdb *gorm.DB, s models.Site) *models.Site {
	t.Helper()
	if err := Insert(gdb, &s); err != nil {
		t.Fatalf("Insert(%s): %v", s.SiteID, err)
	}
	return &s
}

func TestNewPlaceholderID(t *testing.T) {
	tests := []struct {
		source string
		prefix string
	}{
		{models.SourceOrder, PendingPrefix},
		{models.SourceShortcode, PendingPrefix},
		{models.SourceAdminTest, TestPrefix},
	}
	for _, tt := range tests {
		id := NewPlaceholderID(tt.source)
		if !strings.HasPrefix(id, tt.prefix) {
			t.Errorf("NewPlaceholderID(%q) = %q, want prefix %q", tt.source, id, tt.prefix)
		}
		if !IsPlaceholder(id) {
			t.Errorf("IsPlaceholder(%q) = false", id)
		}
	}
	if IsPlaceholder("12345") {
		t.Error("IsPlaceholder(12345) = true")
	}
	if NewPlaceholderID(models.SourceOrder) == NewPlaceholderID(models.SourceOrder) {
		t.Error("placeholder ids should be unique")
	}
}

func TestInsert_Defaults(t *testing.T) {
	gdb := testDB(t)
	s := insert(t, gdb, models.Site{SiteID: "pending-a"})
	if s.Status != models.SiteStatusCreating {
		t.Errorf("Status = %q, want creating", s.Status)
	}
	if s.SiteType != models.SiteTypePaid {
		t.Errorf("SiteType = %q, want paid", s.SiteType)
	}

	if err := Insert(gdb, &models.Site{}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Insert without id: err = %v, want validation", err)
	}
	if err := Insert(gdb, &models.Site{SiteID: "pending-a"}); err == nil {
		t.Error("duplicate site id should fail")
	}
}

func TestGet_NotFound(t *testing.T) {
	gdb := testDB(t)
	_, err := Get(gdb, "missing")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestList_Filters(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1", SiteType: models.SiteTypeDemo, CustomerEmail: "A@Example.com", Source: models.SourceShortcode})
	insert(t, gdb, models.Site{SiteID: "2", OrderID: strp("500"), Source: models.SourceOrder, Status: models.SiteStatusProgress})
	insert(t, gdb, models.Site{SiteID: "3", OrderID: strp("500"), Source: models.SourceOrder, Status: models.SiteStatusCompleted})

	tests := []struct {
		name string
		f    Filters
		want int
	}{
		{"all", Filters{}, 3},
		{"by order", Filters{OrderID: "500"}, 2},
		{"by type", Filters{SiteType: models.SiteTypeDemo}, 1},
		{"by status", Filters{Status: models.SiteStatusProgress}, 1},
		{"by source", Filters{Source: models.SourceShortcode}, 1},
		{"email case-insensitive", Filters{Email: "a@example.COM"}, 1},
		{"limit", Filters{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := List(gdb, tt.f)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestListPending(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1", Status: models.SiteStatusProgress, TaskID: "t1"})
	insert(t, gdb, models.Site{SiteID: "2", Status: models.SiteStatusProgress})
	insert(t, gdb, models.Site{SiteID: "3", Status: models.SiteStatusCompleted})
	insert(t, gdb, models.Site{SiteID: "4", Status: models.SiteStatusProgress, TaskID: "t4"})

	got, err := ListPending(gdb)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(got) != 2 || got[0].SiteID != "1" || got[1].SiteID != "4" {
		t.Errorf("pending = %+v, want sites 1 and 4", got)
	}
}

func TestFindDemoByEmail(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1", SiteType: models.SiteTypeDemo, Status: models.SiteStatusCompleted, CustomerEmail: "a@example.com"})
	insert(t, gdb, models.Site{SiteID: "2", SiteType: models.SiteTypePaid, Status: models.SiteStatusCompleted, CustomerEmail: "a@example.com"})
	insert(t, gdb, models.Site{SiteID: "3", SiteType: models.SiteTypeDemo, Status: models.SiteStatusCompleted, CustomerEmail: "b@example.com"})
	insert(t, gdb, models.Site{SiteID: "4", SiteType: models.SiteTypeDemo, Status: models.SiteStatusProgress, TaskID: "t-4", CustomerEmail: "a@example.com"})
	insert(t, gdb, models.Site{SiteID: "5", SiteType: models.SiteTypeDemo, Status: models.SiteStatusFailed, CustomerEmail: "a@example.com"})
	insert(t, gdb, models.Site{SiteID: "6", SiteType: models.SiteTypeDemo, CustomerEmail: "a@example.com"})
	insert(t, gdb, models.Site{SiteID: PendingPrefix + "dead", SiteType: models.SiteTypeDemo, Status: models.SiteStatusFailed, CustomerEmail: "a@example.com"})

	got, err := FindDemoByEmail(gdb, " A@example.com ")
	if err != nil {
		t.Fatalf("FindDemoByEmail: %v", err)
	}
	if len(got) != 2 || got[0].SiteID != "1" || got[1].SiteID != "4" {
		t.Errorf("got %+v, want sites 1 and 4", got)
	}

	got, err = FindDemoByEmail(gdb, "")
	if err != nil || len(got) != 0 {
		t.Errorf("empty email: got %v, %v", got, err)
	}
}

func TestRewriteID(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "pending-x", OrderID: strp("7")})

	s, err := RewriteID(gdb, "pending-x", "900", map[string]interface{}{
		"status":  models.SiteStatusProgress,
		"task_id": "t-900",
	})
	if err != nil {
		t.Fatalf("RewriteID: %v", err)
	}
	if s.SiteID != "900" || s.Status != models.SiteStatusProgress || s.TaskID != "t-900" {
		t.Errorf("site = %+v", s)
	}
	if s.OrderID == nil || *s.OrderID != "7" {
		t.Errorf("OrderID lost: %v", s.OrderID)
	}
	if _, err := Get(gdb, "pending-x"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("placeholder still present: %v", err)
	}
}

func TestRewriteID_MergesIntoExisting(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "900", Status: models.SiteStatusProgress, TaskID: "t-old", CustomerEmail: "old@example.com", UserID: strp("3")})
	insert(t, gdb, models.Site{SiteID: "pending-y", OrderID: strp("8"), CustomerEmail: "new@example.com", Source: models.SourceOrder})

	s, err := RewriteID(gdb, "pending-y", "900", map[string]interface{}{"site_url": "https://x.example.com"})
	if err != nil {
		t.Fatalf("RewriteID: %v", err)
	}
	if s.CustomerEmail != "new@example.com" || s.Source != models.SourceOrder || s.SiteURL != "https://x.example.com" {
		t.Errorf("merged site = %+v", s)
	}
	if s.OrderID == nil || *s.OrderID != "8" {
		t.Errorf("OrderID = %v, want 8", s.OrderID)
	}
	if s.UserID == nil || *s.UserID != "3" {
		t.Errorf("UserID = %v, unset placeholder value should not clear it", s.UserID)
	}

	var count int64
	gdb.Model(&models.Site{}).Count(&count)
	if count != 1 {
		t.Errorf("site rows = %d, want 1", count)
	}
}

func TestRewriteID_RefusesTerminalOrForeignRow(t *testing.T) {
	tests := []struct {
		name     string
		existing models.Site
	}{
		{"completed", models.Site{SiteID: "900", Status: models.SiteStatusCompleted, OrderID: strp("111")}},
		{"failed", models.Site{SiteID: "900", Status: models.SiteStatusFailed}},
		{"other order", models.Site{SiteID: "900", Status: models.SiteStatusProgress, TaskID: "t-1", OrderID: strp("111")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb := testDB(t)
			insert(t, gdb, tt.existing)
			insert(t, gdb, models.Site{SiteID: "pending-z", OrderID: strp("222"), Source: models.SourceOrder})

			_, err := RewriteID(gdb, "pending-z", "900", map[string]interface{}{
				"status":  models.SiteStatusProgress,
				"task_id": "t-9",
			})
			if !apperr.Is(err, apperr.KindConflict) {
				t.Fatalf("err = %v, want conflict", err)
			}

			s, _ := Get(gdb, "900")
			if s.Status != tt.existing.Status || s.TaskID != tt.existing.TaskID {
				t.Errorf("existing row changed: status %q task %q", s.Status, s.TaskID)
			}
			if (s.OrderID == nil) != (tt.existing.OrderID == nil) || (s.OrderID != nil && *s.OrderID != *tt.existing.OrderID) {
				t.Errorf("existing order changed: %v", s.OrderID)
			}
			if _, err := Get(gdb, "pending-z"); err != nil {
				t.Errorf("placeholder should remain: %v", err)
			}
		})
	}
}

func TestRewriteID_MissingPlaceholder(t *testing.T) {
	gdb := testDB(t)
	if _, err := RewriteID(gdb, "pending-none", "1", nil); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := RewriteID(gdb, "pending-none", "", nil); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestTransition(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1", Status: models.SiteStatusProgress, TaskID: "t1"})

	ok, err := Transition(gdb, "1", models.SiteStatusProgress, models.SiteStatusCompleted, map[string]interface{}{"task_id": ""})
	if err != nil || !ok {
		t.Fatalf("Transition = %v, %v; want true", ok, err)
	}
	s, _ := Get(gdb, "1")
	if s.Status != models.SiteStatusCompleted || s.TaskID != "" {
		t.Errorf("site = %+v", s)
	}

	// Losing the compare-and-set is not an error.
	ok, err = Transition(gdb, "1", models.SiteStatusProgress, models.SiteStatusFailed, nil)
	if err != nil || ok {
		t.Errorf("second Transition = %v, %v; want false, nil", ok, err)
	}
}

func TestTransition_RefusesRegression(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1", Status: models.SiteStatusCompleted})

	tests := []struct{ from, to string }{
		{models.SiteStatusCompleted, models.SiteStatusProgress},
		{models.SiteStatusCompleted, models.SiteStatusFailed},
		{models.SiteStatusFailed, models.SiteStatusCompleted},
		{models.SiteStatusProgress, models.SiteStatusCreating},
	}
	for _, tt := range tests {
		_, err := Transition(gdb, "1", tt.from, tt.to, nil)
		if !apperr.Is(err, apperr.KindConflict) {
			t.Errorf("Transition %s->%s err = %v, want conflict", tt.from, tt.to, err)
		}
	}
}

func TestTransition_Concurrent(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1", Status: models.SiteStatusProgress, TaskID: "t"})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := Transition(gdb, "1", models.SiteStatusProgress, models.SiteStatusCompleted, nil)
			if err != nil {
				t.Errorf("Transition: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
}

func TestMarkFailed(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "pending-1"})
	insert(t, gdb, models.Site{SiteID: "2", Status: models.SiteStatusCompleted})

	ok, err := MarkFailed(gdb, "pending-1", []byte(`{"status":"error","message":"bad snapshot"}`))
	if err != nil || !ok {
		t.Fatalf("MarkFailed = %v, %v", ok, err)
	}
	s, _ := Get(gdb, "pending-1")
	if s.Status != models.SiteStatusFailed {
		t.Errorf("Status = %q, want failed", s.Status)
	}
	if !strings.Contains(string(s.APIResponse), "bad snapshot") {
		t.Errorf("APIResponse = %s", s.APIResponse)
	}

	ok, err = MarkFailed(gdb, "2", nil)
	if err != nil || ok {
		t.Errorf("MarkFailed on completed = %v, %v; want false", ok, err)
	}
}

func TestConvertible(t *testing.T) {
	tests := []struct {
		name string
		site models.Site
		want bool
	}{
		{"completed demo", models.Site{SiteID: "1", SiteType: models.SiteTypeDemo, Status: models.SiteStatusCompleted}, true},
		{"progress demo", models.Site{SiteID: "1", SiteType: models.SiteTypeDemo, Status: models.SiteStatusProgress}, true},
		{"creating demo", models.Site{SiteID: "1", SiteType: models.SiteTypeDemo, Status: models.SiteStatusCreating}, false},
		{"failed demo", models.Site{SiteID: "1", SiteType: models.SiteTypeDemo, Status: models.SiteStatusFailed}, false},
		{"placeholder", models.Site{SiteID: PendingPrefix + "x", SiteType: models.SiteTypeDemo, Status: models.SiteStatusCompleted}, false},
		{"paid", models.Site{SiteID: "1", SiteType: models.SiteTypePaid, Status: models.SiteStatusCompleted}, false},
	}
	for _, tt := range tests {
		if got := Convertible(&tt.site); got != tt.want {
			t.Errorf("%s: Convertible = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestConvertToPaid(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1", SiteType: models.SiteTypeDemo, Status: models.SiteStatusCompleted})
	insert(t, gdb, models.Site{SiteID: "2", SiteType: models.SiteTypeDemo, Status: models.SiteStatusFailed})

	ok, err := ConvertToPaid(gdb, "2", nil)
	if err != nil || ok {
		t.Errorf("ConvertToPaid on failed demo = %v, %v; want false", ok, err)
	}
	ok, err = ConvertToPaid(gdb, "1", map[string]interface{}{"order_id": "500"})
	if err != nil || !ok {
		t.Fatalf("ConvertToPaid = %v, %v", ok, err)
	}
	ok, err = ConvertToPaid(gdb, "1", nil)
	if err != nil || ok {
		t.Errorf("second ConvertToPaid = %v, %v; want false", ok, err)
	}
	s, _ := Get(gdb, "1")
	if s.SiteType != models.SiteTypePaid || s.OrderID == nil || *s.OrderID != "500" {
		t.Errorf("site = %+v", s)
	}
}

func TestUpdateFields(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1"})

	if err := UpdateFields(gdb, "1", map[string]interface{}{"plan_id": "pro"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if err := UpdateFields(gdb, "1", map[string]interface{}{"status": "completed"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("status update err = %v, want validation", err)
	}
	if err := UpdateFields(gdb, "nope", map[string]interface{}{"plan_id": "x"}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("missing site err = %v, want not found", err)
	}
}

func TestSetPermanence(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1"})

	if err := SetPermanence(gdb, "1", true, 24); err != nil {
		t.Fatalf("SetPermanence(true): %v", err)
	}
	if s, _ := Get(gdb, "1"); !s.IsPermanent() {
		t.Error("IsPermanent = false after SetPermanence(true)")
	}

	if err := SetPermanence(gdb, "1", false, 24); err != nil {
		t.Fatalf("SetPermanence(false): %v", err)
	}
	s, _ := Get(gdb, "1")
	if s.IsReserved || s.ExpiryHours == nil || *s.ExpiryHours != 24 {
		t.Errorf("site = reserved %v expiry %v", s.IsReserved, s.ExpiryHours)
	}
	if s.IsPermanent() {
		t.Error("IsPermanent = true after SetPermanence(false)")
	}
}

func TestPlanHistoryAndDelete(t *testing.T) {
	gdb := testDB(t)
	insert(t, gdb, models.Site{SiteID: "1", PlanID: "basic"})

	if err := RecordPlanChange(gdb, "1", "basic", "pro", "600"); err != nil {
		t.Fatalf("RecordPlanChange: %v", err)
	}
	if err := RecordPlanChange(gdb, "1", "pro", "agency", "601"); err != nil {
		t.Fatalf("RecordPlanChange: %v", err)
	}
	hist, err := PlanHistory(gdb, "1")
	if err != nil {
		t.Fatalf("PlanHistory: %v", err)
	}
	if len(hist) != 2 || hist[0].NewPlanID != "pro" || hist[1].NewPlanID != "agency" {
		t.Errorf("history = %+v", hist)
	}

	if err := Delete(gdb, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	hist, _ = PlanHistory(gdb, "1")
	if len(hist) != 0 {
		t.Errorf("history after delete = %d rows", len(hist))
	}
	if err := Delete(gdb, "1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("second delete err = %v, want not found", err)
	}
}
