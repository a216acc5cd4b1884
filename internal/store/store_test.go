package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/lox/ubikemap/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateIdempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, err := store.MigrationVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", v, len(migrations))
	}
}

func TestFavorites(t *testing.T) {
	store := setupTestStore(t)

	for _, id := range []string{"500101001", "500101002", "500101001"} {
		if err := store.AddFavorite(id); err != nil {
			t.Fatalf("AddFavorite(%s): %v", id, err)
		}
	}
	ids, err := store.ListFavorites()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"500101001", "500101002"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ListFavorites = %v, want %v", ids, want)
	}

	on, err := store.ToggleFavorite("500101002")
	if err != nil || on {
		t.Errorf("toggle existing = %v, %v; want false", on, err)
	}
	on, err = store.ToggleFavorite("500101003")
	if err != nil || !on {
		t.Errorf("toggle new = %v, %v; want true", on, err)
	}

	if ok, _ := store.IsFavorite("500101003"); !ok {
		t.Error("IsFavorite(500101003) = false after toggle on")
	}
	if ok, _ := store.IsFavorite("500101002"); ok {
		t.Error("IsFavorite(500101002) = true after toggle off")
	}

	set, err := store.Favorites()
	if err != nil {
		t.Fatal(err)
	}
	if !set.IsFavorite("500101001") || set.IsFavorite("500101002") || len(set) != 2 {
		t.Errorf("Favorites() = %v", set)
	}

	if err := store.RemoveFavorite("500101001"); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.FavoriteCount(); n != 1 {
		t.Errorf("FavoriteCount = %d, want 1", n)
	}
	if err := store.ClearFavorites(); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.FavoriteCount(); n != 0 {
		t.Errorf("FavoriteCount after clear = %d, want 0", n)
	}

	if err := store.AddFavorite("  "); err == nil {
		t.Error("expected error for blank station id")
	}
}

func TestFavoritesExportImport(t *testing.T) {
	store := setupTestStore(t)
	_ = store.AddFavorite("A")
	_ = store.AddFavorite("B")

	now := time.Date(2026, 10, 18, 8, 30, 0, 0, time.UTC)
	exp, err := store.ExportFavorites(now)
	if err != nil {
		t.Fatal(err)
	}
	if exp.Version != "1.0" || !exp.ExportDate.Equal(now) || !reflect.DeepEqual(exp.Favorites, []string{"A", "B"}) {
		t.Errorf("export = %+v", exp)
	}
	data, err := json.Marshal(exp)
	if err != nil {
		t.Fatal(err)
	}

	other := setupTestStore(t)
	_ = other.AddFavorite("B")
	_ = other.AddFavorite("C")
	imported, added, err := other.ImportFavorites(data)
	if err != nil {
		t.Fatal(err)
	}
	if imported != 2 || added != 1 {
		t.Errorf("imported=%d added=%d, want 2 and 1", imported, added)
	}
	ids, _ := other.ListFavorites()
	if len(ids) != 3 {
		t.Errorf("merged favorites = %v, want 3 unique", ids)
	}
}

func TestImportFavoritesRejectsBadInput(t *testing.T) {
	store := setupTestStore(t)
	inputs := []string{
		`not json`,
		`{"version":"1.0"}`,
		`{"favorites":"A"}`,
		`{"favorites":[1,2]}`,
	}
	for _, in := range inputs {
		if _, _, err := store.ImportFavorites([]byte(in)); !errors.Is(err, ErrInvalidFavoritesFile) {
			t.Errorf("ImportFavorites(%s) err = %v, want ErrInvalidFavoritesFile", in, err)
		}
	}
	if n, _ := store.FavoriteCount(); n != 0 {
		t.Errorf("FavoriteCount = %d after rejected imports", n)
	}
}

func TestViewMode(t *testing.T) {
	store := setupTestStore(t)

	v, err := store.ViewMode()
	if err != nil || v != models.ViewTable {
		t.Errorf("default ViewMode = %s, %v; want table", v, err)
	}
	if err := store.SetViewMode(models.ViewMap); err != nil {
		t.Fatal(err)
	}
	if v, _ := store.ViewMode(); v != models.ViewMap {
		t.Errorf("ViewMode = %s, want map", v)
	}
	if err := store.SetViewMode("grid"); err == nil {
		t.Error("expected error for unknown view")
	}

	if err := store.SetSetting(settingView, "garbage"); err != nil {
		t.Fatal(err)
	}
	if v, _ := store.ViewMode(); v != models.ViewTable {
		t.Errorf("ViewMode with bad stored value = %s, want table", v)
	}
}

func TestRefreshRuns(t *testing.T) {
	store := setupTestStore(t)
	since := time.Now().Add(-time.Minute)

	ok, err := store.StartRefreshRun()
	if err != nil {
		t.Fatal(err)
	}
	ok.Success = true
	ok.StationCount = sql.NullInt64{Int64: 1500, Valid: true}
	if err := store.CompleteRefreshRun(ok); err != nil {
		t.Fatal(err)
	}

	failed, _ := store.StartRefreshRun()
	failed.ErrorMessage = sql.NullString{String: "station feed unavailable", Valid: true}
	if err := store.CompleteRefreshRun(failed); err != nil {
		t.Fatal(err)
	}

	stale, _ := store.StartRefreshRun()
	stale.Success = true
	stale.Discarded = true
	if err := store.CompleteRefreshRun(stale); err != nil {
		t.Fatal(err)
	}

	runs, err := store.RecentRefreshRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("RecentRefreshRuns = %d, want 3", len(runs))
	}

	h, err := store.RefreshHealth(since)
	if err != nil {
		t.Fatal(err)
	}
	if h.Total != 3 || h.Succeeded != 1 || h.Failed != 1 || h.Discarded != 1 {
		t.Errorf("RefreshHealth = %+v", h)
	}
	if h.LastSuccess == nil {
		t.Error("LastSuccess not set")
	}

	if err := store.CompleteRefreshRun(nil); err != nil {
		t.Errorf("CompleteRefreshRun(nil) = %v", err)
	}
}

func TestSnapshots(t *testing.T) {
	store := setupTestStore(t)

	if _, _, ok, err := store.LatestSnapshot(); err != nil || ok {
		t.Fatalf("empty store LatestSnapshot ok=%v err=%v", ok, err)
	}

	first := []byte(`[{"sno":"500101001","sna":"YouBike2.0_A"}]`)
	second := []byte(`[{"sno":"500101002","sna":"YouBike2.0_B"}]`)
	t0 := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

	if err := store.SaveSnapshot(first, t0); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSnapshot(second, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	raw, at, ok, err := store.LatestSnapshot()
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot ok=%v err=%v", ok, err)
	}
	if string(raw) != string(second) || !at.Equal(t0.Add(time.Minute)) {
		t.Errorf("latest = %s at %v", raw, at)
	}

	// same payload again moves it to the front without a second row
	if err := store.SaveSnapshot(first, t0.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	raw, _, _, _ = store.LatestSnapshot()
	if string(raw) != string(first) {
		t.Errorf("latest after resave = %s", raw)
	}
	var n int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("snapshot rows = %d, want 2", n)
	}
}

func TestPruneSnapshots(t *testing.T) {
	store := setupTestStore(t)
	t0 := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.SaveSnapshot([]byte{byte('a' + i)}, t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.PruneSnapshots(2); err != nil {
		t.Fatal(err)
	}
	var n int
	_ = store.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n)
	if n != 2 {
		t.Errorf("rows after prune = %d, want 2", n)
	}
	raw, _, _, _ := store.LatestSnapshot()
	if string(raw) != "e" {
		t.Errorf("latest after prune = %q, want e", raw)
	}
}
