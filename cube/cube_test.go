package cube

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stackcube/stackcube/collection"
	"github.com/stackcube/stackcube/storage"
)

var testT0 = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

type countingObserver struct {
	mu         sync.Mutex
	chunkReads int
	assetErrs  int
}

func (o *countingObserver) ChunkRead(ChunkCoords, time.Duration) {
	o.mu.Lock()
	o.chunkReads++
	o.mu.Unlock()
}

func (o *countingObserver) AssetReadError(string, error) {
	o.mu.Lock()
	o.assetErrs++
	o.mu.Unlock()
}

// testScene registers a 4x4 constant raster covering (0,0)-(4,4) and
// returns its collection entry.
func testScene(reader *storage.MemReader, imageID, band, url string, day int, fill float32) collection.Entry {
	vals := make([]float32, 16)
	for i := range vals {
		vals[i] = fill
	}
	reader.Put(url, 1, f32Src(4, 4, [6]float64{0, 1, 0, 4, 0, -1}, -9999, vals))
	return collection.Entry{
		ImageID:    imageID,
		Band:       band,
		URL:        url,
		BBox:       [4]float64{0, 0, 4, 4},
		Time:       testT0.AddDate(0, 0, day),
		BandIndex:  1,
		RasterType: "Float32",
		NoData:     -9999,
	}
}

func testCubeView(t *testing.T, days int) *View {
	return mustView(t, Extent{Left: 0, Right: 4, Bottom: 0, Top: 4}, 1, 1,
		testT0, testT0.AddDate(0, 0, days), "P1D")
}

func TestBuildPerformsNoIO(t *testing.T) {
	reader := storage.NewMemReader()
	ic := collection.NewImageCollection("test", []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
	})

	c, err := Build(ic, testCubeView(t, 2), reader)
	if err != nil {
		t.Fatal(err)
	}

	cT, cY, cX := c.NumChunks()
	if cT != 2 || cY != 1 || cX != 1 {
		t.Errorf("NumChunks = (%d,%d,%d)", cT, cY, cX)
	}
	if len(c.Fingerprint()) == 0 {
		t.Error("empty fingerprint")
	}
	if n := reader.Reads(); n != 0 {
		t.Errorf("cube construction issued %d reads, want 0", n)
	}
}

func TestReadChunkEmptySlice(t *testing.T) {
	reader := storage.NewMemReader()
	// The only scene sits outside the temporal extent.
	ic := collection.NewImageCollection("test", []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 30, 2),
	})

	c, err := Build(ic, testCubeView(t, 2), reader)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := c.ReadChunk(context.Background(), ChunkCoords{})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range ch.Data {
		if !IsNoData(v) {
			t.Fatalf("cell %d = %v, want no-data", i, v)
		}
	}
	if n := reader.Reads(); n != 0 {
		t.Errorf("empty chunk issued %d reads", n)
	}
}

func TestReadChunkMedian(t *testing.T) {
	reader := storage.NewMemReader()
	ic := collection.NewImageCollection("test", []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
		testScene(reader, "b", "red", "mem://b", 0, 4),
	})

	obs := &countingObserver{}
	c, err := Build(ic, testCubeView(t, 1), reader, WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := c.ReadChunk(context.Background(), ChunkCoords{})
	if err != nil {
		t.Fatal(err)
	}
	if ch.Width != 4 || ch.Height != 4 {
		t.Fatalf("chunk is %dx%d", ch.Width, ch.Height)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if got := ch.At(0, 0, y, x); got != 3 {
				t.Fatalf("median at (%d,%d) = %v, want 3", y, x, got)
			}
		}
	}
	if obs.chunkReads != 1 {
		t.Errorf("observer saw %d chunk reads", obs.chunkReads)
	}
}

func TestReadChunkSkipsFailedAsset(t *testing.T) {
	reader := storage.NewMemReader()
	ic := collection.NewImageCollection("test", []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
		testScene(reader, "b", "red", "mem://b", 0, 4),
	})
	reader.FailWith("mem://b", errors.New("connection reset"))

	obs := &countingObserver{}
	c, err := Build(ic, testCubeView(t, 1), reader, WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := c.ReadChunk(context.Background(), ChunkCoords{})
	if err != nil {
		t.Fatalf("failed asset must not fail the chunk: %v", err)
	}
	if got := ch.At(0, 0, 2, 2); got != 2 {
		t.Errorf("surviving observation = %v, want 2", got)
	}
	if obs.assetErrs != 1 {
		t.Errorf("observer saw %d asset errors, want 1", obs.assetErrs)
	}
}

func TestReadChunkMask(t *testing.T) {
	reader := storage.NewMemReader()
	entries := []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
		testScene(reader, "b", "red", "mem://b", 0, 4),
	}

	// Image a's qa band flags its right half invalid.
	qa := make([]float32, 16)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x >= 2 {
				qa[y*4+x] = 1
			}
		}
	}
	reader.Put("mem://a_qa", 1, f32Src(4, 4, [6]float64{0, 1, 0, 4, 0, -1}, -9999, qa))
	entries = append(entries, collection.Entry{
		ImageID: "a", Band: "qa", URL: "mem://a_qa",
		BBox: [4]float64{0, 0, 4, 4}, Time: testT0,
		BandIndex: 1, RasterType: "Float32", NoData: -9999,
	})

	ic := collection.NewImageCollection("test", entries)
	c, err := Build(ic, testCubeView(t, 1), reader,
		WithMask(MaskSpec{Band: "qa", Values: []float64{1}}))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := c.ReadChunk(context.Background(), ChunkCoords{})
	if err != nil {
		t.Fatal(err)
	}
	// Left half: median of 2 and 4. Right half: only image b survives.
	if got := ch.At(0, 0, 0, 0); got != 3 {
		t.Errorf("clear half = %v, want 3", got)
	}
	if got := ch.At(0, 0, 0, 3); got != 4 {
		t.Errorf("masked-out half = %v, want 4", got)
	}
}

func TestReadChunkFullyMasked(t *testing.T) {
	reader := storage.NewMemReader()
	entries := []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
	}

	qa := make([]float32, 16)
	for i := range qa {
		qa[i] = 3
	}
	reader.Put("mem://a_qa", 1, f32Src(4, 4, [6]float64{0, 1, 0, 4, 0, -1}, -9999, qa))
	entries = append(entries, collection.Entry{
		ImageID: "a", Band: "qa", URL: "mem://a_qa",
		BBox: [4]float64{0, 0, 4, 4}, Time: testT0,
		BandIndex: 1, RasterType: "Float32", NoData: -9999,
	})

	ic := collection.NewImageCollection("test", entries)
	c, err := Build(ic, testCubeView(t, 1), reader,
		WithMask(MaskSpec{Band: "qa", Values: []float64{3, 8, 9}}))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := c.ReadChunk(context.Background(), ChunkCoords{})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range ch.Data {
		if !IsNoData(v) {
			t.Fatalf("cell %d = %v, want no-data", i, v)
		}
	}
}

func TestReadChunkMaskReadFailure(t *testing.T) {
	reader := storage.NewMemReader()
	entries := []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
		{
			ImageID: "a", Band: "qa", URL: "mem://a_qa",
			BBox: [4]float64{0, 0, 4, 4}, Time: testT0,
			BandIndex: 1, RasterType: "Float32", NoData: -9999,
		},
	}
	reader.FailWith("mem://a_qa", errors.New("timeout"))

	ic := collection.NewImageCollection("test", entries)
	c, err := Build(ic, testCubeView(t, 1), reader,
		WithMask(MaskSpec{Band: "qa", Values: []float64{1}}))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := c.ReadChunk(context.Background(), ChunkCoords{})
	if err != nil {
		t.Fatal(err)
	}
	// A lost mask read keeps the observation unmasked.
	if got := ch.At(0, 0, 0, 0); got != 2 {
		t.Errorf("observation with failed mask read = %v, want 2", got)
	}
}

func TestReadChunkBounds(t *testing.T) {
	reader := storage.NewMemReader()
	ic := collection.NewImageCollection("test", []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
	})
	c, err := Build(ic, testCubeView(t, 1), reader)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadChunk(context.Background(), ChunkCoords{T: 0, Y: 0, X: 5}); err == nil {
		t.Error("out-of-grid chunk coords should fail")
	}
}

func TestReadChunkPartialEdge(t *testing.T) {
	reader := storage.NewMemReader()
	ic := collection.NewImageCollection("test", []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
	})

	c, err := Build(ic, testCubeView(t, 1), reader, WithChunkSize(1, 3, 3))
	if err != nil {
		t.Fatal(err)
	}
	_, cY, cX := c.NumChunks()
	if cY != 2 || cX != 2 {
		t.Fatalf("NumChunks = (_,%d,%d), want (_,2,2)", cY, cX)
	}

	ch, err := c.ReadChunk(context.Background(), ChunkCoords{T: 0, Y: 1, X: 1})
	if err != nil {
		t.Fatal(err)
	}
	if ch.Width != 1 || ch.Height != 1 || ch.OffX != 3 || ch.OffY != 3 {
		t.Fatalf("edge chunk %dx%d at (%d,%d)", ch.Width, ch.Height, ch.OffX, ch.OffY)
	}
	if got := ch.At(0, 0, 0, 0); got != 2 {
		t.Errorf("edge chunk value = %v, want 2", got)
	}
}

func TestReadChunkCancelledContext(t *testing.T) {
	reader := storage.NewMemReader()
	ic := collection.NewImageCollection("test", []collection.Entry{
		testScene(reader, "a", "red", "mem://a", 0, 2),
	})
	c, err := Build(ic, testCubeView(t, 1), reader)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ReadChunk(ctx, ChunkCoords{}); err == nil {
		t.Error("cancelled context should fail the read")
	}
}

func TestBuildValidation(t *testing.T) {
	reader := storage.NewMemReader()
	ic := collection.NewImageCollection("test", nil)
	view := testCubeView(t, 1)

	if _, err := Build(nil, view, reader); !IsConfigError(err) {
		t.Errorf("nil collection: %v", err)
	}
	if _, err := Build(ic, nil, reader); !IsConfigError(err) {
		t.Errorf("nil view: %v", err)
	}
	if _, err := Build(ic, view, nil); !IsConfigError(err) {
		t.Errorf("nil reader: %v", err)
	}
	if _, err := Build(ic, view, reader, WithChunkSize(0, 256, 256)); !IsConfigError(err) {
		t.Errorf("zero chunk size: %v", err)
	}
	if _, err := Build(ic, view, reader, WithMask(MaskSpec{BitTests: []string{"11"}})); !IsConfigError(err) {
		t.Errorf("odd bit tests: %v", err)
	}
	if _, err := Build(ic, view, reader, WithMask(MaskSpec{Band: "qa", BitTests: []string{"11"}})); !IsConfigError(err) {
		t.Errorf("odd bit tests: %v", err)
	}
	if _, err := Build(ic, view, reader, WithMask(MaskSpec{Band: "qa", BitTests: []string{"11", "2x"}})); !IsConfigError(err) {
		t.Errorf("non-binary bit test: %v", err)
	}
}
