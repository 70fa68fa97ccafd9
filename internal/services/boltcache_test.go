package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindcare-mx/mindcare-web/internal/models"
)

func TestBoltCache(t *testing.T) {
	cache, err := NewBoltCache(filepath.Join(t.TempDir(), "cache.db"), time.Hour)
	if err != nil {
		t.Fatalf("NewBoltCache() error = %v", err)
	}
	defer cache.Close()

	ctx := context.Background()

	if _, ok := cache.Get(ctx, "missing"); ok {
		t.Error("Get() on missing key reported a hit")
	}

	places := []models.Place{{ID: 1, Name: "Centro de Salud Mental", Distance: 42}}
	if err := cache.Put(ctx, "19.430:-99.130:5000", places); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := cache.Get(ctx, "19.430:-99.130:5000")
	if !ok {
		t.Fatal("Get() after Put() reported a miss")
	}
	if len(got) != 1 || got[0].Name != "Centro de Salud Mental" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestBoltCacheExpiry(t *testing.T) {
	cache, err := NewBoltCache(filepath.Join(t.TempDir(), "cache.db"), time.Millisecond)
	if err != nil {
		t.Fatalf("NewBoltCache() error = %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "key", []models.Place{{ID: 1, Name: "Clínica"}}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, ok := cache.Get(ctx, "key"); ok {
		t.Error("Get() returned an expired entry")
	}
}
