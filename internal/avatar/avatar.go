// Package avatar downloads profile pictures asserted by identity providers
// and keeps a copy in object storage.
package avatar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

const (
	// MaxSize is the largest avatar accepted.
	MaxSize = 5 << 20

	// DefaultTimeout bounds a single download.
	DefaultTimeout = 5 * time.Second
)

var (
	ErrTooLarge        = errors.New("avatar exceeds size limit")
	ErrUnsupportedType = errors.New("avatar is not a supported image type")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Fetcher downloads avatars into a Store.
type Fetcher struct {
	client *http.Client
	store  Store
}

// NewFetcher returns a Fetcher using client for downloads. A nil client gets
// one with DefaultTimeout.
func NewFetcher(store Store, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{client: client, store: store}
}

// URL resolves a stored key for API responses.
func (f *Fetcher) URL(key string) string {
	return f.store.URL(key)
}

// Fetch downloads url and stores it as avatars/<userID>/<uuid><ext>,
// returning the object key.
func (f *Fetcher) Fetch(ctx context.Context, userID, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "building avatar request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "downloading avatar")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading avatar: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > MaxSize {
		return "", ErrTooLarge
	}

	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return "", ErrUnsupportedType
	}
	ext, ok := extensions[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return "", errors.Wrap(err, "reading avatar")
	}
	if len(body) > MaxSize {
		return "", ErrTooLarge
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("avatars/%s/%s%s", userID, id, ext)
	if err := f.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
		return "", err
	}
	return key, nil
}
