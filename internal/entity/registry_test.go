package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
)

func newTestRegistry(t *testing.T) (*Registry, *SQLiteRepository) {
	t.Helper()
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	reg := NewRegistry(repo)
	reg.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return reg, repo
}

func testDirectory() *mesh.Directory {
	dir := mesh.NewDirectory()
	dir.UpdateLights([]mesh.Descriptor{
		{Address: 123, Name: "Desk Lamp", DisplayName: "Desk Lamp", Tags: []string{"Light"}, Kind: mesh.KindMonochrome},
		{Address: 200, Name: "Ceiling", DisplayName: "Ceiling", Tags: []string{"Light", "Multiwhite"}, Kind: mesh.KindMultiwhite},
	})
	dir.UpdateGroups([]mesh.Descriptor{
		{Address: 65535, Name: "TOS_Internal_All", DisplayName: "All lights", Kind: mesh.KindGroup},
	})
	dir.UpdateScenes([]mesh.Scene{{ID: 3, Name: "Evening"}})
	return dir
}

func TestRegistry_RecordDiscovery(t *testing.T) {
	reg, repo := newTestRegistry(t)
	dir := testDirectory()
	ctx := context.Background()

	changes := []mesh.DirectoryChange{
		{Category: mesh.CategoryLights, Added: []int{123, 200}},
		{Category: mesh.CategoryGroups, Added: []int{65535}},
		{Category: mesh.CategoryScenes, Added: []int{3}},
	}
	for _, c := range changes {
		if err := reg.RecordDiscovery(ctx, dir, c); err != nil {
			t.Fatalf("RecordDiscovery(%s) error = %v", c, err)
		}
	}

	if got := reg.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	all, err := reg.Get(ctx, "group/65535")
	if err != nil {
		t.Fatal(err)
	}
	if all.DisplayName != "All lights" || all.Kind != "group" {
		t.Errorf("group record = %+v", all)
	}

	stored, err := repo.Get(ctx, "light/200")
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if stored.Kind != "multiwhite" {
		t.Errorf("stored kind = %q", stored.Kind)
	}

	scenes, err := reg.Scenes(ctx)
	if err != nil || len(scenes) != 1 || scenes[0].Name != "Evening" {
		t.Errorf("Scenes() = %+v, %v", scenes, err)
	}
}

func TestRegistry_RecordState(t *testing.T) {
	reg, repo := newTestRegistry(t)
	dir := testDirectory()
	ctx := context.Background()
	if err := reg.RecordDiscovery(ctx, dir, mesh.DirectoryChange{Category: mesh.CategoryLights, Added: []int{200}}); err != nil {
		t.Fatal(err)
	}

	status, err := mesh.ParseStatus([]byte(`{"lightness":0.5,"temperature":4000}`))
	if err != nil {
		t.Fatal(err)
	}
	ceiling, _ := dir.Light(200)
	es := mesh.NewEntityState(ceiling.Target(), status, mesh.PriorityNormal)

	if err := reg.RecordState(ctx, es); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}

	cached, _ := reg.Get(ctx, "light/200")
	if cached.State == nil || cached.State.ColorTempKelvin == nil || *cached.State.ColorTempKelvin != 4000 {
		t.Errorf("cached state = %+v", cached.State)
	}

	stored, _ := repo.Get(ctx, "light/200")
	if stored.State == nil || stored.State.Brightness == nil || *stored.State.Brightness != 128 {
		t.Errorf("stored state = %+v", stored.State)
	}

	// Rediscovery keeps the stored state in the cache.
	if err := reg.RecordDiscovery(ctx, dir, mesh.DirectoryChange{Category: mesh.CategoryLights, Updated: []int{200}}); err != nil {
		t.Fatal(err)
	}
	if cached, _ := reg.Get(ctx, "light/200"); cached.State == nil {
		t.Error("state dropped from cache by rediscovery")
	}
}

func TestRegistry_RecordStateUnknownEntity(t *testing.T) {
	reg, _ := newTestRegistry(t)
	es := mesh.NewEntityState(mesh.Target{Kind: mesh.KindMonochrome, Address: 9, Name: "x"}, mesh.Status{}, mesh.PriorityNormal)

	if err := reg.RecordState(context.Background(), es); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordState() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_RefreshCacheSurvivesRestart(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()
	if err := reg.RecordDiscovery(ctx, testDirectory(), mesh.DirectoryChange{Category: mesh.CategoryLights, Added: []int{123, 200}}); err != nil {
		t.Fatal(err)
	}

	restarted := NewRegistry(repo)
	if restarted.Count() != 0 {
		t.Fatal("new registry not empty before refresh")
	}
	if err := restarted.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	records := restarted.List()
	if len(records) != 2 || records[0].Key != "light/123" || records[1].Key != "light/200" {
		t.Errorf("List() after restart = %+v", records)
	}
}

func TestRegistry_ListReturnsCopies(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	if err := reg.RecordDiscovery(ctx, testDirectory(), mesh.DirectoryChange{Category: mesh.CategoryLights, Added: []int{123}}); err != nil {
		t.Fatal(err)
	}

	records := reg.List()
	records[0].Tags[0] = "mutated"

	again := reg.List()
	if again[0].Tags[0] != "Light" {
		t.Errorf("cache mutated through List(): %v", again[0].Tags)
	}
}
