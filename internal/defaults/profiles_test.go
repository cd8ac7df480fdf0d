package defaults

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

func newTestProfileStore(t *testing.T) *ProfileStore {
	t.Helper()
	store, err := NewProfileStore(filepath.Join(t.TempDir(), "model-profiles.db"))
	if err != nil {
		t.Fatalf("NewProfileStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleProfile(id string) Profile {
	return Profile{
		ID:        id,
		Name:      "Profile " + id,
		Planning:  models.ModelConfig{Provider: "anthropic", ModelID: "claude-opus-4"},
		Execution: models.ModelConfig{Provider: "anthropic", ModelID: "claude-sonnet-4-5"},
		ExecutionFallbacks: []models.ModelConfig{
			{Provider: "openai", ModelID: "gpt-5"},
		},
	}
}

func TestProfileCreateAndGet(t *testing.T) {
	store := newTestProfileStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sampleProfile("fast"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}

	got, err := store.Get(ctx, "fast")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Profile fast" {
		t.Errorf("name = %q", got.Name)
	}
	if got.Execution.ModelID != "claude-sonnet-4-5" {
		t.Errorf("execution = %+v", got.Execution)
	}
	if len(got.ExecutionFallbacks) != 1 || got.ExecutionFallbacks[0].ModelID != "gpt-5" {
		t.Errorf("fallbacks = %v", got.ExecutionFallbacks)
	}
	if got.PlanningFallbacks != nil {
		t.Errorf("empty fallbacks should read back nil, got %v", got.PlanningFallbacks)
	}
}

func TestProfileDuplicateIDRejected(t *testing.T) {
	store := newTestProfileStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, sampleProfile("fast")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, sampleProfile("fast")); !taskerr.IsValidation(err) {
		t.Errorf("duplicate create error = %v, want validation", err)
	}
}

func TestProfileGetMissingIsNotFound(t *testing.T) {
	store := newTestProfileStore(t)
	if _, err := store.Get(context.Background(), "nope"); !taskerr.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestProfileValidation(t *testing.T) {
	store := newTestProfileStore(t)
	ctx := context.Background()

	bad := sampleProfile("bad")
	bad.Execution.Provider = ""
	if _, err := store.Create(ctx, bad); !taskerr.IsValidation(err) {
		t.Errorf("missing provider error = %v, want validation", err)
	}

	bad = sampleProfile(" ")
	if _, err := store.Create(ctx, bad); !taskerr.IsValidation(err) {
		t.Errorf("blank id error = %v, want validation", err)
	}
}

func TestProfileListOrderedByName(t *testing.T) {
	store := newTestProfileStore(t)
	ctx := context.Background()

	for _, p := range []Profile{
		{ID: "z", Name: "Zeta", Planning: sampleProfile("x").Planning, Execution: sampleProfile("x").Execution},
		{ID: "a", Name: "Alpha", Planning: sampleProfile("x").Planning, Execution: sampleProfile("x").Execution},
	} {
		if _, err := store.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	profiles, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Name != "Alpha" || profiles[1].Name != "Zeta" {
		t.Errorf("List order wrong: %v", profiles)
	}
}

func TestProfileUpdate(t *testing.T) {
	store := newTestProfileStore(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	created, err := store.Create(ctx, sampleProfile("fast"))
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Hour)
	updated := created
	updated.Name = "Renamed"
	updated.Execution.ModelID = "claude-opus-4"
	got, err := store.Update(ctx, updated)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Name != "Renamed" || got.Execution.ModelID != "claude-opus-4" {
		t.Errorf("updated profile = %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", created.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("updatedAt not advanced: %v", got.UpdatedAt)
	}

	missing := sampleProfile("ghost")
	if _, err := store.Update(ctx, missing); !taskerr.IsNotFound(err) {
		t.Errorf("update missing error = %v, want not found", err)
	}
}

func TestProfileDelete(t *testing.T) {
	store := newTestProfileStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, sampleProfile("fast")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "fast"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "fast"); !taskerr.IsNotFound(err) {
		t.Errorf("Get after delete = %v, want not found", err)
	}

	// Deleting an unknown id is a no-op.
	if err := store.Delete(ctx, "fast"); err != nil {
		t.Errorf("second delete = %v", err)
	}
}

func TestProfileLayer(t *testing.T) {
	profile := sampleProfile("fast")
	layer := profile.Layer()

	if layer.PlanningModelConfig == nil || layer.PlanningModelConfig.ModelID != "claude-opus-4" {
		t.Errorf("planning = %+v", layer.PlanningModelConfig)
	}
	if layer.ModelConfig == nil || layer.ModelConfig.ModelID != "claude-sonnet-4-5" {
		t.Errorf("legacy alias not filled: %+v", layer.ModelConfig)
	}

	effective := Resolve(layer)
	if effective.ExecutionModelConfig.ModelID != "claude-sonnet-4-5" {
		t.Errorf("effective execution = %+v", effective.ExecutionModelConfig)
	}
	if len(effective.ExecutionFallbackModels) != 1 {
		t.Errorf("effective fallbacks = %v", effective.ExecutionFallbackModels)
	}
}
