package storage

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"
)

// HTTPFetcher range-reads a remote object over HTTP. COG-style hosting
// behind any server honouring Range requests works unchanged.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFactory returns a FetcherFactory sharing one http.Client
// across assets, so connection pooling is the client's business.
func NewHTTPFactory(client *http.Client) FetcherFactory {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return func(assetURL string) (RangeFetcher, error) {
		return &HTTPFetcher{url: assetURL, client: client}, nil
	}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, off, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", h.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("range GET %s returned status %d", h.url, resp.StatusCode)
	}

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Servers ignoring Range reply 200 with the full body.
	if resp.StatusCode == http.StatusOK && int64(len(buf)) > length {
		end := off + length
		if end > int64(len(buf)) {
			end = int64(len(buf))
		}
		if off >= int64(len(buf)) {
			return nil, fmt.Errorf("range GET %s: offset %d beyond object size %d", h.url, off, len(buf))
		}
		buf = buf[off:end]
	}
	return buf, nil
}

func (h *HTTPFetcher) Size(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", h.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HEAD %s returned status %d", h.url, resp.StatusCode)
	}
	return strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
}
