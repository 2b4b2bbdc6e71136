package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunReportsEachProbe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	report, ok := Run(context.Background(), time.Second,
		Probe{Name: "redis", Check: RedisChecker(client)},
		Probe{Name: "minio", Check: MinioChecker(pingerFunc(func(context.Context) error { return nil }))},
	)
	if !ok || report.Status != "UP" {
		t.Fatalf("expected UP, got %+v", report)
	}
	if report.Checks["redis"] != "UP" || report.Checks["minio"] != "UP" {
		t.Errorf("unexpected checks: %v", report.Checks)
	}

	mr.Close()
	report, ok = Run(context.Background(), time.Second,
		Probe{Name: "redis", Check: RedisChecker(client)},
		Probe{Name: "minio", Check: MinioChecker(pingerFunc(func(context.Context) error { return errors.New("bucket missing") }))},
	)
	if ok || report.Status != "DOWN" {
		t.Fatalf("expected DOWN, got %+v", report)
	}
	if report.Checks["redis"] == "UP" || report.Checks["minio"] == "UP" {
		t.Errorf("both probes should fail: %v", report.Checks)
	}
}

func TestProbeTimeout(t *testing.T) {
	slow := pingerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	_, ok := Run(context.Background(), 20*time.Millisecond, Probe{Name: "minio", Check: MinioChecker(slow)})
	if ok {
		t.Error("slow probe should fail")
	}
	if time.Since(start) > time.Second {
		t.Error("probe timeout not applied")
	}
}

func TestNilDependencies(t *testing.T) {
	ctx := context.Background()
	if err := DBChecker(nil)(ctx); err == nil {
		t.Error("nil database should fail")
	}
	if err := RedisChecker(nil)(ctx); err == nil {
		t.Error("nil redis should fail")
	}
	if err := MinioChecker(nil)(ctx); err == nil {
		t.Error("nil minio should fail")
	}
	if err := KafkaChecker(nil)(ctx); err == nil {
		t.Error("empty brokers should fail")
	}
}
