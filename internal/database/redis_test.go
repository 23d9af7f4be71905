package database

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/asascience/matos/internal/config"
)

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedis(config.RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Errorf("expected v, got %q", got)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(config.RedisConfig{URL: "http://nope"}); err == nil {
		t.Fatal("expected error for non-redis URL")
	}
}

func TestPingWithBackoff_ReturnsLastError(t *testing.T) {
	calls := 0
	errDown := errors.New("down")
	err := pingWithBackoff("test", func(context.Context) error {
		calls++
		return errDown
	}, 1)
	if !errors.Is(err, errDown) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}
