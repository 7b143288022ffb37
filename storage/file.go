package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unsafe"
)

// FileFetcher range-reads a local gridfile.
type FileFetcher struct {
	path string
}

func NewFileFetcher(assetURL string) (RangeFetcher, error) {
	path := strings.TrimPrefix(assetURL, "file://")
	return &FileFetcher{path: path}, nil
}

func (f *FileFetcher) Fetch(ctx context.Context, off, length int64) ([]byte, error) {
	fp, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	buf := make([]byte, length)
	n, err := fp.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func (f *FileFetcher) Size(ctx context.Context) (int64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// GridWriter writes a Float32 gridfile with concurrent-safe positioned
// row writes, so chunked exports can run in parallel.
type GridWriter struct {
	f       *os.File
	hdr     GridHeader
	dataOff int64
}

func NewGridWriter(path string, hdr GridHeader) (*GridWriter, error) {
	if hdr.Type != "Float32" {
		return nil, fmt.Errorf("grid writer supports Float32 output, not %s", hdr.Type)
	}
	if hdr.Bands <= 0 {
		hdr.Bands = 1
	}

	raw, err := json.Marshal(&hdr)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	prelude := make([]byte, gridPreludeSize)
	copy(prelude, gridMagic)
	binary.LittleEndian.PutUint32(prelude[4:], uint32(len(raw)))
	if _, err := f.Write(prelude); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return nil, err
	}

	w := &GridWriter{f: f, hdr: hdr, dataOff: int64(gridPreludeSize + len(raw))}
	total := w.dataOff + int64(hdr.Bands)*int64(hdr.Width)*int64(hdr.Height)*SizeofFloat32
	if err := f.Truncate(total); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteRow writes vals at (band, row, col). Bands are 0-based here,
// matching the in-memory chunk layout.
func (w *GridWriter) WriteRow(band, row, col int, vals []float32) error {
	if len(vals) == 0 {
		return nil
	}
	if band < 0 || band >= w.hdr.Bands || row < 0 || row >= w.hdr.Height || col+len(vals) > w.hdr.Width {
		return fmt.Errorf("row write out of bounds: band=%d row=%d col=%d n=%d", band, row, col, len(vals))
	}

	buf := make([]byte, len(vals)*SizeofFloat32)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*SizeofFloat32:], *(*uint32)(unsafe.Pointer(&v)))
	}

	off := w.dataOff +
		(int64(band)*int64(w.hdr.Width)*int64(w.hdr.Height)+int64(row)*int64(w.hdr.Width)+int64(col))*SizeofFloat32
	_, err := w.f.WriteAt(buf, off)
	return err
}

func (w *GridWriter) Close() error {
	return w.f.Close()
}

// WriteGridFile writes a complete single-shot gridfile. Used by tests
// and small synthetic catalogs.
func WriteGridFile(path string, hdr GridHeader, data []byte) error {
	if hdr.Bands <= 0 {
		hdr.Bands = 1
	}
	pxSize, err := DataSize(hdr.Type)
	if err != nil {
		return err
	}
	want := hdr.Bands * hdr.Width * hdr.Height * pxSize
	if len(data) != want {
		return fmt.Errorf("gridfile payload is %d bytes, want %d", len(data), want)
	}

	raw, err := json.Marshal(&hdr)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	prelude := make([]byte, gridPreludeSize)
	copy(prelude, gridMagic)
	binary.LittleEndian.PutUint32(prelude[4:], uint32(len(raw)))
	if _, err := f.Write(prelude); err != nil {
		return err
	}
	if _, err := f.Write(raw); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}
