package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"labelstudio/labeling"
)

const (
	maxPageImageBytes   = 32 << 20
	defaultPreviewWidth = 600
	maxPreviewWidth     = 2400
	prefetchConcurrency = 4
)

// ImageResolver fetches page images to learn their natural size and to render
// previews. Sizes are cached per URL.
type ImageResolver struct {
	httpClient *retryablehttp.Client

	mu    sync.Mutex
	sizes map[string]labeling.ImageSize
}

// NewImageResolver creates a resolver. httpClient may be nil.
func NewImageResolver(httpClient *http.Client) *ImageResolver {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = log.WithField("component", "page_images")
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	return &ImageResolver{
		httpClient: client,
		sizes:      make(map[string]labeling.ImageSize),
	}
}

// ImageSize implements labeling.ImageSizer.
func (r *ImageResolver) ImageSize(ctx context.Context, imageURL string) (labeling.ImageSize, error) {
	r.mu.Lock()
	size, ok := r.sizes[imageURL]
	r.mu.Unlock()
	if ok {
		return size, nil
	}

	data, err := r.fetch(ctx, imageURL)
	if err != nil {
		return labeling.ImageSize{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return labeling.ImageSize{}, fmt.Errorf("error decoding page image %s: %w", imageURL, err)
	}
	size = labeling.ImageSize{Width: cfg.Width, Height: cfg.Height}

	r.mu.Lock()
	r.sizes[imageURL] = size
	r.mu.Unlock()
	return size, nil
}

// Prefetch resolves the sizes of all page images of a document in parallel so
// page changes do not wait on the image host.
func (r *ImageResolver) Prefetch(ctx context.Context, imageURLs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, u := range imageURLs {
		if u == "" {
			continue
		}
		g.Go(func() error {
			_, err := r.ImageSize(ctx, u)
			return err
		})
	}
	return g.Wait()
}

// Preview renders the page image scaled to width as JPEG.
func (r *ImageResolver) Preview(ctx context.Context, imageURL string, width int) ([]byte, error) {
	if width <= 0 {
		width = defaultPreviewWidth
	}
	if width > maxPreviewWidth {
		width = maxPreviewWidth
	}

	data, err := r.fetch(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("error decoding page image %s: %w", imageURL, err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("error encoding preview: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *ImageResolver) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	logger := log.WithFields(logrus.Fields{"image_url": imageURL})

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating image request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching page image %s: %w", imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("error fetching page image %s: %d, %s", imageURL, resp.StatusCode, string(bodyBytes))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageImageBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading page image %s: %w", imageURL, err)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		logger.WithField("mime_type", mtype.String()).Warn("Page image has unexpected content type")
		return nil, fmt.Errorf("page image %s is not an image: %s", imageURL, mtype.String())
	}
	logger.WithField("mime_type", mtype.String()).Debug("Fetched page image")
	return data, nil
}

var _ labeling.ImageSizer = (*ImageResolver)(nil)
