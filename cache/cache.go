// Package cache adds transparent chunk caching in front of a cube.
// Chunks are snappy-compressed and keyed by the cube fingerprint plus
// chunk coordinates, so any change to the lazy description changes
// every key.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"

	"github.com/stackcube/stackcube/cube"
)

// Backend is a shared or in-process chunk byte store. A miss is not an
// error.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
}

// Observer receives cache events; implementations feed metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
}

type noopObserver struct{}

func (noopObserver) CacheHit()  {}
func (noopObserver) CacheMiss() {}

// Key builds the backend key of one chunk.
func Key(fingerprint string, coords cube.ChunkCoords) string {
	return fmt.Sprintf("sc:chunk:%016x:t%d.y%d.x%d",
		xxhash.Sum64String(fingerprint), coords.T, coords.Y, coords.X)
}

const chunkMagic = "SCCH"

// Encode serializes a chunk for the backend.
func Encode(ch *cube.Chunk) []byte {
	buf := make([]byte, 0, 64+4*len(ch.Data))
	buf = append(buf, chunkMagic...)

	buf = appendUint32(buf, uint32(len(ch.Bands)))
	for _, b := range ch.Bands {
		buf = appendUint32(buf, uint32(len(b)))
		buf = append(buf, b...)
	}
	buf = appendUint32(buf, uint32(len(ch.SliceTimes)))
	for _, t := range ch.SliceTimes {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(t.UnixNano()))
	}
	buf = appendUint32(buf, uint32(ch.Width))
	buf = appendUint32(buf, uint32(ch.Height))
	buf = appendUint32(buf, uint32(ch.OffX))
	buf = appendUint32(buf, uint32(ch.OffY))
	buf = appendUint32(buf, uint32(ch.OffT))
	for _, v := range ch.Data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return snappy.Encode(nil, buf)
}

// Decode deserializes an encoded chunk.
func Decode(raw []byte) (*cube.Chunk, error) {
	buf, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt chunk encoding: %v", err)
	}
	r := &reader{buf: buf}
	if string(r.bytes(4)) != chunkMagic {
		return nil, fmt.Errorf("corrupt chunk encoding: bad magic")
	}

	ch := &cube.Chunk{}
	nBands := int(r.uint32())
	for i := 0; i < nBands && r.err == nil; i++ {
		ch.Bands = append(ch.Bands, string(r.bytes(int(r.uint32()))))
	}
	nSlices := int(r.uint32())
	for i := 0; i < nSlices && r.err == nil; i++ {
		ch.SliceTimes = append(ch.SliceTimes, time.Unix(0, int64(r.uint64())).UTC())
	}
	ch.Width = int(r.uint32())
	ch.Height = int(r.uint32())
	ch.OffX = int(r.uint32())
	ch.OffY = int(r.uint32())
	ch.OffT = int(r.uint32())
	if r.err != nil {
		return nil, r.err
	}

	n := nBands * nSlices * ch.Width * ch.Height
	if len(r.buf)-r.off != 4*n {
		return nil, fmt.Errorf("corrupt chunk encoding: %d data bytes, want %d", len(r.buf)-r.off, 4*n)
	}
	ch.Data = make([]float32, n)
	for i := range ch.Data {
		ch.Data[i] = math.Float32frombits(r.uint32())
	}
	return ch, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || n < 0 || r.off+n > len(r.buf) {
		if r.err == nil {
			r.err = fmt.Errorf("corrupt chunk encoding: truncated")
		}
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

type cachedCube struct {
	cube.Cube
	backend Backend
	obs     Observer
}

// Wrap returns a cube that consults the backend before delegating a
// chunk read. Backend failures degrade to uncached reads.
func Wrap(c cube.Cube, backend Backend, obs Observer) cube.Cube {
	if obs == nil {
		obs = noopObserver{}
	}
	return &cachedCube{Cube: c, backend: backend, obs: obs}
}

func (cc *cachedCube) ReadChunk(ctx context.Context, coords cube.ChunkCoords) (*cube.Chunk, error) {
	key := Key(cc.Cube.Fingerprint(), coords)

	raw, found, err := cc.backend.Get(ctx, key)
	if err != nil {
		log.Printf("chunk cache get %s: %v", key, err)
	} else if found {
		ch, err := Decode(raw)
		if err == nil {
			cc.obs.CacheHit()
			return ch, nil
		}
		log.Printf("chunk cache decode %s: %v", key, err)
	}
	cc.obs.CacheMiss()

	ch, err := cc.Cube.ReadChunk(ctx, coords)
	if err != nil {
		return nil, err
	}
	if err := cc.backend.Set(ctx, key, Encode(ch)); err != nil {
		log.Printf("chunk cache set %s: %v", key, err)
	}
	return ch, nil
}
