package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stackcube/stackcube/cube"
)

func testChunk() *cube.Chunk {
	t0 := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	ch := cube.NewChunk([]string{"red", "nir"}, []time.Time{t0, t0.AddDate(0, 0, 1)}, 3, 2, 6, 4, 1)
	ch.Set(0, 0, 0, 0, 42)
	ch.Set(1, 1, 1, 2, -7.5)
	return ch
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	ch := testChunk()
	got, err := Decode(Encode(ch))
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Bands) != 2 || got.Bands[0] != "red" || got.Bands[1] != "nir" {
		t.Errorf("Bands = %v", got.Bands)
	}
	if len(got.SliceTimes) != 2 || !got.SliceTimes[0].Equal(ch.SliceTimes[0]) {
		t.Errorf("SliceTimes = %v", got.SliceTimes)
	}
	if got.Width != 3 || got.Height != 2 || got.OffX != 6 || got.OffY != 4 || got.OffT != 1 {
		t.Errorf("geometry = %+v", got)
	}
	if got.At(0, 0, 0, 0) != 42 || got.At(1, 1, 1, 2) != -7.5 {
		t.Errorf("values lost: %v, %v", got.At(0, 0, 0, 0), got.At(1, 1, 1, 2))
	}
	// No-data cells survive as NaN.
	if !cube.IsNoData(got.At(0, 1, 0, 0)) {
		t.Errorf("no-data cell = %v", got.At(0, 1, 0, 0))
	}
}

func TestDecodeCorrupt(t *testing.T) {
	if _, err := Decode([]byte("garbage")); err == nil {
		t.Error("garbage should fail to decode")
	}
	raw := Encode(testChunk())
	if _, err := Decode(raw[:len(raw)/2]); err == nil {
		t.Error("truncated encoding should fail to decode")
	}
}

func TestKeyDependsOnFingerprintAndCoords(t *testing.T) {
	a := Key("fp-a", cube.ChunkCoords{T: 0, Y: 1, X: 2})
	b := Key("fp-b", cube.ChunkCoords{T: 0, Y: 1, X: 2})
	c := Key("fp-a", cube.ChunkCoords{T: 0, Y: 2, X: 1})
	if a == b || a == c {
		t.Errorf("keys collide: %s %s %s", a, b, c)
	}
}

type fakeCube struct {
	mu    sync.Mutex
	reads int
}

func (f *fakeCube) View() *cube.View           { return nil }
func (f *fakeCube) Bands() []string            { return []string{"red", "nir"} }
func (f *fakeCube) ChunkSize() (int, int, int) { return 1, 2, 3 }
func (f *fakeCube) NumChunks() (int, int, int) { return 2, 2, 2 }
func (f *fakeCube) Fingerprint() string        { return "fake-cube" }

func (f *fakeCube) ReadChunk(ctx context.Context, coords cube.ChunkCoords) (*cube.Chunk, error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	return testChunk(), nil
}

type countingCacheObserver struct {
	hits, misses int
}

func (o *countingCacheObserver) CacheHit()  { o.hits++ }
func (o *countingCacheObserver) CacheMiss() { o.misses++ }

func TestWrapServesFromCache(t *testing.T) {
	backend, err := NewLRUBackend(16)
	if err != nil {
		t.Fatal(err)
	}
	inner := &fakeCube{}
	obs := &countingCacheObserver{}
	c := Wrap(inner, backend, obs)

	coords := cube.ChunkCoords{T: 1, Y: 0, X: 1}
	for i := 0; i < 3; i++ {
		ch, err := c.ReadChunk(context.Background(), coords)
		if err != nil {
			t.Fatal(err)
		}
		if ch.At(0, 0, 0, 0) != 42 {
			t.Fatalf("read %d returned wrong chunk", i)
		}
	}

	if inner.reads != 1 {
		t.Errorf("inner cube read %d times, want 1", inner.reads)
	}
	if obs.hits != 2 || obs.misses != 1 {
		t.Errorf("hits=%d misses=%d, want 2/1", obs.hits, obs.misses)
	}

	// Different coords miss again.
	if _, err := c.ReadChunk(context.Background(), cube.ChunkCoords{}); err != nil {
		t.Fatal(err)
	}
	if inner.reads != 2 {
		t.Errorf("inner cube read %d times, want 2", inner.reads)
	}
}

func TestRedisBackend(t *testing.T) {
	srv := miniredis.RunT(t)
	backend := NewRedisBackend(redis.NewClient(&redis.Options{Addr: srv.Addr()}), time.Hour)

	ctx := context.Background()
	if _, found, err := backend.Get(ctx, "missing"); err != nil || found {
		t.Errorf("Get(missing) = found=%v err=%v", found, err)
	}

	raw := Encode(testChunk())
	if err := backend.Set(ctx, "k", raw); err != nil {
		t.Fatal(err)
	}
	got, found, err := backend.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get(k) = found=%v err=%v", found, err)
	}
	ch, err := Decode(got)
	if err != nil {
		t.Fatal(err)
	}
	if ch.At(0, 0, 0, 0) != 42 {
		t.Errorf("value through redis = %v", ch.At(0, 0, 0, 0))
	}
}

func TestWrapRedisEndToEnd(t *testing.T) {
	srv := miniredis.RunT(t)
	backend := NewRedisBackend(redis.NewClient(&redis.Options{Addr: srv.Addr()}), time.Hour)

	inner := &fakeCube{}
	c := Wrap(inner, backend, nil)
	for i := 0; i < 2; i++ {
		if _, err := c.ReadChunk(context.Background(), cube.ChunkCoords{}); err != nil {
			t.Fatal(err)
		}
	}
	if inner.reads != 1 {
		t.Errorf("inner cube read %d times, want 1", inner.reads)
	}
}
