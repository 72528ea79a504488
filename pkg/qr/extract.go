package qr

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"strings"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/rs/zerolog"

	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/metrics"
)

var (
	// ErrNoQR means no decodable QR code was found within the attempt
	// budget.
	ErrNoQR = errors.New("no qr code found")

	// ErrInvalidURL means a QR decoded but its URL failed validation.
	ErrInvalidURL = errors.New("qr url validation failed")
)

// Error tags recorded on the auth session when extraction gives up.
const (
	TagExtractionFailed = "qr_extraction_failed"
	TagValidationFailed = "qr_validation_failed"
)

// PageEvaluator is the slice of browser control the extractor needs.
type PageEvaluator interface {
	Evaluate(ctx context.Context, js string, out any) error
	EvaluateAsync(ctx context.Context, js string, out any) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Config tunes the extraction loop.
type Config struct {
	Attempts        int           // decode attempts before giving up
	Interval        time.Duration // sleep between attempts
	ValidateRetries int           // re-extracts after a failed validation
	CanvasWaitTries int           // short wait for the first canvas
	CanvasWaitEvery time.Duration
	Placeholder     string // URL substring of the known placeholder image
}

func (c *Config) applyDefaults() {
	if c.Attempts <= 0 {
		c.Attempts = 30
	}
	if c.Interval <= 0 {
		c.Interval = 200 * time.Millisecond
	}
	if c.ValidateRetries <= 0 {
		c.ValidateRetries = 3
	}
	if c.CanvasWaitTries <= 0 {
		c.CanvasWaitTries = 6
	}
	if c.CanvasWaitEvery <= 0 {
		c.CanvasWaitEvery = 500 * time.Millisecond
	}
}

// Result is what extraction produces. On success Image is the QR PNG
// and DecodedURL its content. On failure Image is a full-page
// screenshot (when one could be taken), DecodedURL is empty, and
// ErrorTag names what went wrong.
type Result struct {
	Image      []byte
	DecodedURL string
	ErrorTag   string
}

// Extractor pulls a login QR out of a rendered page and validates that
// it is actually a login QR, not a promotional one.
type Extractor struct {
	cfg       Config
	validator *Validator
	script    string
	logger    zerolog.Logger
}

// New creates an extractor using the given URL validator.
func New(cfg Config, validator *Validator) *Extractor {
	cfg.applyDefaults()
	return &Extractor{
		cfg:       cfg,
		validator: validator,
		script:    buildScript(cfg.Placeholder),
		logger:    log.WithComponent("qr"),
	}
}

// Extract runs the full extract-then-validate loop against the page.
// It never returns an error; failures come back as a Result with an
// ErrorTag and a screenshot payload.
func (e *Extractor) Extract(ctx context.Context, page PageEvaluator) Result {
	e.waitForCanvas(ctx, page)

	img, decoded, err := e.tryDecode(ctx, page, e.cfg.Attempts)
	if err != nil {
		e.logger.Warn().Err(err).Msg("qr extraction exhausted attempts")
		metrics.QRExtractions.WithLabelValues("extract_failed").Inc()
		return e.fallback(ctx, page, TagExtractionFailed)
	}

	// A decoded QR can still be the promotional one; re-extract a few
	// times in case the real login QR replaces it.
	var verr error
	for retry := 0; retry <= e.cfg.ValidateRetries; retry++ {
		if retry > 0 {
			if !sleep(ctx, e.cfg.Interval) {
				break
			}
			if img2, decoded2, err2 := e.tryDecode(ctx, page, 1); err2 == nil {
				img, decoded = img2, decoded2
			}
		}

		if verr = e.validator.Validate(decoded); verr == nil {
			metrics.QRExtractions.WithLabelValues("ok").Inc()
			return Result{Image: img, DecodedURL: decoded}
		}
	}

	e.logger.Warn().Err(verr).Msg("qr decoded but url failed validation")
	metrics.QRExtractions.WithLabelValues("validation_failed").Inc()
	return e.fallback(ctx, page, TagValidationFailed)
}

// waitForCanvas gives the page a moment to render its first canvas.
// Proceeds regardless of the outcome.
func (e *Extractor) waitForCanvas(ctx context.Context, page PageEvaluator) {
	for i := 0; i < e.cfg.CanvasWaitTries; i++ {
		var present bool
		if err := page.Evaluate(ctx, `!!document.querySelector('canvas')`, &present); err == nil && present {
			return
		}
		if !sleep(ctx, e.cfg.CanvasWaitEvery) {
			return
		}
	}
}

// tryDecode runs the in-page candidate script up to attempts times and
// decodes the first candidate that contains a QR code.
func (e *Extractor) tryDecode(ctx context.Context, page PageEvaluator, attempts int) ([]byte, string, error) {
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 && !sleep(ctx, e.cfg.Interval) {
			return nil, "", fmt.Errorf("%w: %v", ErrNoQR, ctx.Err())
		}

		var dataURL string
		if err := page.EvaluateAsync(ctx, e.script, &dataURL); err != nil {
			lastErr = err
			continue
		}
		if dataURL == "" {
			continue
		}

		png, err := pngFromDataURL(dataURL)
		if err != nil {
			lastErr = err
			continue
		}

		text, err := decodeQR(png)
		if err != nil {
			lastErr = err
			continue
		}

		return png, text, nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNoQR, lastErr)
	}
	return nil, "", ErrNoQR
}

// fallback captures a screenshot so the client has something to show.
func (e *Extractor) fallback(ctx context.Context, page PageEvaluator, tag string) Result {
	shot, err := page.Screenshot(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("fallback screenshot failed")
		shot = nil
	}
	return Result{Image: shot, ErrorTag: tag}
}

// pngFromDataURL strips the data-URL envelope and decodes the base64
// payload.
func pngFromDataURL(dataURL string) ([]byte, error) {
	idx := strings.Index(dataURL, ",")
	if idx < 0 || !strings.HasPrefix(dataURL, "data:image/") {
		return nil, fmt.Errorf("not an image data url")
	}

	raw, err := base64.StdEncoding.DecodeString(dataURL[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("bad data url payload: %w", err)
	}
	return raw, nil
}

// decodeQR finds and decodes a QR code in PNG bytes.
func decodeQR(png []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return "", fmt.Errorf("failed to decode candidate image: %w", err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("failed to build bitmap: %w", err)
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("no qr in candidate: %w", err)
	}

	return result.GetText(), nil
}

// sleep waits for d unless the context ends first. Returns false when
// cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// buildScript injects the placeholder filter into the candidate script.
// The script prefers large canvases, then square images, reloading
// images with cross-origin permission so their pixels are readable.
func buildScript(placeholder string) string {
	if placeholder == "" {
		placeholder = "\x00never-matches\x00"
	}
	return fmt.Sprintf(candidateScript, placeholder)
}

const candidateScript = `(async () => {
	const MIN = 100;
	const PLACEHOLDER = %q;

	for (const c of document.querySelectorAll('canvas')) {
		if (c.width >= MIN && c.height >= MIN) {
			try { return c.toDataURL('image/png'); } catch (e) {}
		}
	}

	const load = (src) => new Promise((resolve, reject) => {
		const im = new Image();
		im.crossOrigin = 'anonymous';
		im.onload = () => resolve(im);
		im.onerror = () => reject(new Error('load failed'));
		im.src = src;
	});

	for (const img of document.querySelectorAll('img')) {
		const w = img.naturalWidth, h = img.naturalHeight;
		if (w < MIN || h < MIN || w !== h) continue;
		const src = img.currentSrc || img.src || '';
		if (!src || src.includes(PLACEHOLDER)) continue;
		try {
			const im = await load(src);
			const canvas = document.createElement('canvas');
			canvas.width = im.naturalWidth;
			canvas.height = im.naturalHeight;
			canvas.getContext('2d').drawImage(im, 0, 0);
			return canvas.toDataURL('image/png');
		} catch (e) {}
	}

	return '';
})()`
