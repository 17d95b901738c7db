package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/callout/pkg/audio"
)

// maxClipBytes is the default bound on a single fetched recording.
const maxClipBytes = 64 << 20

// ErrClipTooLarge is returned for recordings larger than the loader's limit.
// They are rejected rather than truncated into a clip that stops mid-word.
var ErrClipTooLarge = errors.New("cache: recording exceeds size limit")

// HTTPLoader loads WAV recordings over HTTP(S). file:// URLs and bare paths
// are read from disk; relative paths resolve against BaseDir.
type HTTPLoader struct {
	Client  *http.Client
	BaseURL string // prefix for references starting with "/"
	BaseDir string

	// MaxBytes bounds one recording. Defaults to 64 MiB.
	MaxBytes int64
}

// Compile-time interface assertion.
var _ Loader = (*HTTPLoader)(nil)

// Load implements [Loader].
func (l *HTTPLoader) Load(ctx context.Context, ref string) (audio.Clip, error) {
	data, err := l.fetch(ctx, ref)
	if err != nil {
		return audio.Clip{}, err
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("decode %q: %w", ref, err)
	}
	return clip, nil
}

func (l *HTTPLoader) fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse reference: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return l.get(ctx, ref)
	case "file":
		return l.readFile(u.Path)
	case "":
		if l.BaseURL != "" && strings.HasPrefix(ref, "/") {
			return l.get(ctx, strings.TrimRight(l.BaseURL, "/")+ref)
		}
		p := ref
		if !filepath.IsAbs(p) && l.BaseDir != "" {
			p = filepath.Join(l.BaseDir, p)
		}
		return l.readFile(p)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func (l *HTTPLoader) get(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav, audio/x-wav, audio/*")

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", ref, resp.StatusCode)
	}
	return l.readAll(resp.Body, ref)
}

func (l *HTTPLoader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.readAll(f, path)
}

// readAll reads r up to the size limit. One byte past the limit is read so
// an oversized recording is detected instead of cut short.
func (l *HTTPLoader) readAll(r io.Reader, ref string) ([]byte, error) {
	limit := l.MaxBytes
	if limit <= 0 {
		limit = maxClipBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %q is over %d bytes", ErrClipTooLarge, ref, limit)
	}
	return data, nil
}
