package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

type countingResolver struct {
	calls int
	id    uuid.UUID
	err   error
}

func (c *countingResolver) ResolveName(context.Context, string, string) (uuid.UUID, bool, error) {
	c.calls++
	if c.err != nil {
		return uuid.Nil, false, c.err
	}
	return c.id, c.id != uuid.Nil, nil
}

func TestStaticIsCaseInsensitive(t *testing.T) {
	id := uuid.New()
	dir := NewStatic(map[string]uuid.UUID{"Ada Lovelace": id})
	got, ok, err := dir.ResolveName(context.Background(), "ada", "LOVELACE")
	if err != nil || !ok || got != id {
		t.Fatalf("unexpected resolve: %s %v %v", got, ok, err)
	}
	if _, ok, _ := dir.ResolveName(context.Background(), "Grace", "Hopper"); ok {
		t.Fatalf("expected miss")
	}
}

func TestRedisDirectory(t *testing.T) {
	mr := miniredis.RunT(t)
	dir, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new redis directory: %v", err)
	}
	defer dir.Close()
	ctx := context.Background()
	id := uuid.New()
	if err := dir.Register(ctx, "Ada", "Lovelace", id); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok, err := dir.ResolveName(ctx, "Ada", "Lovelace")
	if err != nil || !ok || got != id {
		t.Fatalf("unexpected resolve: %s %v %v", got, ok, err)
	}
	if _, ok, err := dir.ResolveName(ctx, "No", "Body"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	mr.Set(nameKeyPrefix+NameKey("Bad", "Entry"), "not-a-uuid")
	if _, _, err := dir.ResolveName(ctx, "Bad", "Entry"); err == nil {
		t.Fatalf("expected error for corrupt entry")
	}
}

func TestCachedMemoizesHitsAndMisses(t *testing.T) {
	hit := &countingResolver{id: uuid.New()}
	cached := NewCached(hit, time.Minute)
	for i := 0; i < 3; i++ {
		if _, ok, _ := cached.ResolveName(context.Background(), "Ada", "Lovelace"); !ok {
			t.Fatalf("expected hit")
		}
	}
	if hit.calls != 1 {
		t.Fatalf("expected one backend call, got %d", hit.calls)
	}
	cached.Forget("ada", "lovelace")
	_, _, _ = cached.ResolveName(context.Background(), "Ada", "Lovelace")
	if hit.calls != 2 {
		t.Fatalf("expected refetch after forget, got %d", hit.calls)
	}

	miss := &countingResolver{}
	cached = NewCached(miss, time.Minute)
	_, _, _ = cached.ResolveName(context.Background(), "No", "Body")
	_, _, _ = cached.ResolveName(context.Background(), "No", "Body")
	if miss.calls != 1 {
		t.Fatalf("expected misses cached, got %d calls", miss.calls)
	}
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	failing := &countingResolver{err: errors.New("down")}
	cached := NewCached(failing, time.Minute)
	for i := 0; i < 2; i++ {
		if _, _, err := cached.ResolveName(context.Background(), "Ada", "Lovelace"); err == nil {
			t.Fatalf("expected error")
		}
	}
	if failing.calls != 2 {
		t.Fatalf("errors must not be cached, got %d calls", failing.calls)
	}
}
