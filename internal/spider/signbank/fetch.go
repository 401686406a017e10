package signbank

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/spider"
)

// Fetch downloads one video to dest. The configured timeout bounds the whole
// transfer; on any failure the partial file is removed before returning.
func (s *Spider) Fetch(ctx context.Context, media spider.MediaSpec, dest string) error {
	if media.URL == "" {
		return fmt.Errorf("media spec for %s has no url", s.name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, media.URL, nil)
	if err != nil {
		return fmt.Errorf("build media request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", media.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", media.URL, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create media file: %w", err)
	}
	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("download %s: %w", media.URL, err)
	}
	s.logger.Debug("media fetched",
		zap.String("url", media.URL), zap.Int64("bytes", written))
	return nil
}
