package contextx

import (
	"context"
	"reflect"
	"testing"
)

func TestRequestFields(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetIP(ctx) != "0.0.0.0" || GetUserAgent(ctx) != "Unknown" {
		t.Fatal("unexpected defaults")
	}
	if attrs := LogAttrs(ctx); len(attrs) != 0 {
		t.Errorf("expected no attrs, got %v", attrs)
	}

	ctx = WithRequestID(ctx, "42")
	ctx = WithIP(ctx, "10.0.0.1")
	ctx = WithUserAgent(ctx, "curl/8")

	want := []any{"request_id", "42", "client_ip", "10.0.0.1"}
	if got := LogAttrs(ctx); !reflect.DeepEqual(got, want) {
		t.Errorf("LogAttrs = %v, want %v", got, want)
	}
	if GetUserAgent(ctx) != "curl/8" {
		t.Errorf("unexpected user agent %q", GetUserAgent(ctx))
	}
}
