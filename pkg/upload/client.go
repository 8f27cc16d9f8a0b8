// Package upload implements the batch upload client for the collector.
//
// The dispatcher hands the client an ordered batch of serialized event
// bodies; the client ships them in a single gzip-compressed POST and
// reports the collector's answer. The two outcomes are deliberately
// distinct: a decoded response (whatever its status) comes back as an
// UploadResponse, while a transport failure comes back as an error with
// no response at all. The dispatcher keys retention and renegotiation
// off that distinction, not off the numeric status.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/daviddao/beacon/pkg/model"
)

// Collector wire headers. Sizes travel in kilobytes, waits in
// milliseconds.
const (
	headerAppKey           = "X-Beacon-App-Key"
	headerAppSecret        = "X-Beacon-App-Secret"
	headerSentAt           = "X-Beacon-Sent-At"
	headerMaxTotal         = "X-Beacon-Max-Total"
	headerMaxBatch         = "X-Beacon-Max-Batch"
	headerMaxWait          = "X-Beacon-Max-Wait"
	headerMinBatchInterval = "X-Beacon-Min-Batch-Interval"
)

// Client sends one batch of serialized event bodies to the collector.
// A nil response with a non-nil error means the transport failed and the
// batch must be retained for retry.
type Client interface {
	SendBatch(ctx context.Context, bodies []string) (*model.UploadResponse, error)
}

// HTTPClient is the production Client: gzip JSON over HTTPS with app
// credentials in headers.
type HTTPClient struct {
	url    string
	key    string
	secret string
	http   *http.Client
	log    zerolog.Logger
}

// NewHTTPClient returns a client posting batches to url, authenticated
// with the given app key and secret.
func NewHTTPClient(url, key, secret string, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		url:    url,
		key:    key,
		secret: secret,
		http:   &http.Client{Timeout: 60 * time.Second},
		log:    log.With().Str("component", "upload").Logger(),
	}
}

// SendBatch posts the bodies as one gzip-compressed JSON array. Each body
// is already a serialized JSON value, so the request payload is assembled
// by joining, not re-encoding.
func (c *HTTPClient) SendBatch(ctx context.Context, bodies []string) (*model.UploadResponse, error) {
	payload, err := compressBatch(bodies)
	if err != nil {
		return nil, fmt.Errorf("compress batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set(headerAppKey, c.key)
	req.Header.Set(headerAppSecret, c.secret)
	req.Header.Set(headerSentAt, strconv.FormatInt(time.Now().UnixMilli(), 10))

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Int("events", len(bodies)).Msg("batch upload failed")
		return nil, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	out := &model.UploadResponse{
		Status:           resp.StatusCode,
		MaxTotalSize:     kbHeader(resp.Header, headerMaxTotal, model.DefaultMaxTotalSize),
		MaxBatchSize:     kbHeader(resp.Header, headerMaxBatch, model.DefaultMaxBatchSize),
		MaxWait:          intHeader(resp.Header, headerMaxWait, model.DefaultMaxWait),
		MinBatchInterval: intHeader(resp.Header, headerMinBatchInterval, model.DefaultMinBatchInterval),
	}
	c.log.Debug().
		Int("status", out.Status).
		Int("events", len(bodies)).
		Int("bytes", len(payload)).
		Msg("batch uploaded")
	return out, nil
}

// compressBatch joins the pre-serialized bodies into a JSON array and
// gzips it.
func compressBatch(bodies []string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte("[" + strings.Join(bodies, ",") + "]")); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// intHeader parses an integer header, falling back to def when the
// collector omits or garbles it.
func intHeader(h http.Header, key string, def int) int {
	v := h.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// kbHeader parses a kilobyte-valued header into bytes.
func kbHeader(h http.Header, key string, defBytes int) int {
	v := h.Get(key)
	if v == "" {
		return defBytes
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defBytes
	}
	return n * 1024
}
