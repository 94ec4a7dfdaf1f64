package composite

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"
	"github.com/cwrk-planet/booth-service/internal/objstore"
)

// maxAssetBytes bounds a single downloaded capture.
const maxAssetBytes = 32 << 20

// Fetcher loads the bytes behind an asset reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// SourceFetcher reads references owned by the object store directly and falls
// back to plain HTTP(S) for everything else.
type SourceFetcher struct {
	store  objstore.Store
	client *http.Client
}

func NewSourceFetcher(store objstore.Store, timeout time.Duration) *SourceFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SourceFetcher{store: store, client: &http.Client{Timeout: timeout}}
}

func (f *SourceFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if f.store != nil && f.store.Owns(ref) {
		return f.store.Get(ctx, ref)
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAsset, ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("fetch %s: asset larger than %d bytes", u.Redacted(), maxAssetBytes)
	}
	return data, nil
}
