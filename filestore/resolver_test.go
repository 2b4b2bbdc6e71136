package filestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/filebroker/cache"
	"github.com/wyfcoding/filebroker/config"
	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/filestore/filestoretest"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/model"
)

func newResolver(t *testing.T, repo filestore.Repository) *filestore.CachedResolver {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l1, err := cache.NewBigCache(time.Minute, config.BigCacheConfig{HardMaxCacheSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	logger := logging.NewLogger("test", "filestore")
	mlc := cache.NewMultiLevelCache(l1, cache.NewRedisCache(client, "files", nil, nil), logger)
	t.Cleanup(func() { _ = mlc.Close() })
	return filestore.NewCachedResolver(repo, mlc, time.Minute, logger)
}

func TestResolverCachesRecords(t *testing.T) {
	ctx := context.Background()
	repo := filestoretest.New()
	repo.Put(model.FileRecord{ID: 1, Fingerprint: "abc", ObjectKey: "2024/01/01/a_abc.txt", OriginalFileName: "a.txt"})
	r := newResolver(t, repo)

	for range 3 {
		rec, err := r.Resolve(ctx, 1)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if rec.ObjectKey != "2024/01/01/a_abc.txt" {
			t.Errorf("unexpected record %+v", rec)
		}
	}
	if repo.FindCalls != 1 {
		t.Errorf("expected a single repository hit, got %d", repo.FindCalls)
	}
}

func TestResolverDoesNotCacheMissesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := filestoretest.New()
	r := newResolver(t, repo)

	if _, err := r.Resolve(ctx, 9); !errors.Is(err, filestore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	repo.Put(model.FileRecord{ID: 9, Fingerprint: "f9"})
	if _, err := r.Resolve(ctx, 9); err != nil {
		t.Fatalf("expected record after insert, got %v", err)
	}

	if _, err := repo.SoftDelete(ctx, 9); err != nil {
		t.Fatal(err)
	}
	r.Invalidate(ctx, 9)
	if _, err := r.Resolve(ctx, 9); !errors.Is(err, filestore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after soft delete, got %v", err)
	}
}
