package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"uploadai/internal/config"
	"uploadai/internal/logging"
	"uploadai/internal/media"
	"uploadai/internal/services"
	"uploadai/internal/textutil"
)

const (
	// FormField is the multipart field carrying the audio file.
	FormField = "file"

	defaultUploadTimeout        = 2 * time.Minute
	defaultTranscriptionTimeout = 10 * time.Minute
	defaultRetryBaseDelay       = 1 * time.Second
	defaultRetryMaxDelay        = 10 * time.Second
	maxErrorBody                = 512
)

// Session is the server-assigned identifier returned by Upload.
type Session struct {
	VideoID string
}

// Config captures the remote endpoint settings.
type Config struct {
	BaseURL              string
	UploadTimeout        time.Duration
	TranscriptionTimeout time.Duration
	// RetryAttempts is the total number of attempts per call; 1 disables retries.
	RetryAttempts int
}

// ConfigFrom maps the [api] section onto Config.
func ConfigFrom(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		BaseURL:              cfg.API.BaseURL,
		UploadTimeout:        cfg.UploadTimeout(),
		TranscriptionTimeout: cfg.TranscriptionTimeout(),
		RetryAttempts:        cfg.API.RetryAttempts,
	}
}

// Coordinator issues the upload and transcription calls.
type Coordinator struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	sleeper        func(time.Duration)
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the configured attempt count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Coordinator) {
		c.cfg.RetryAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Coordinator) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Coordinator) {
		c.sleeper = sleeper
	}
}

// NewCoordinator constructs a coordinator for cfg.
func NewCoordinator(cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = defaultTranscriptionTimeout
	}
	c := &Coordinator{
		cfg:            cfg,
		httpClient:     &http.Client{},
		logger:         logging.NewComponentLogger(logger, "upload"),
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadResponse struct {
	Video struct {
		ID flexibleID `json:"id"`
	} `json:"video"`
}

// flexibleID accepts string or numeric identifiers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("video id: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

// Upload stores audio on the remote service with one multipart POST to
// /videos and returns the assigned session.
func (c *Coordinator) Upload(ctx context.Context, audio media.AudioFile) (Session, error) {
	const stage, op = "uploading", "post video"
	if audio.Size() == 0 {
		return Session{}, services.Wrap(services.ErrUpload, stage, op, "audio is empty", nil)
	}
	body, contentType, err := multipartBody(audio)
	if err != nil {
		return Session{}, services.Wrap(services.ErrUpload, stage, op, "encode form", err)
	}
	endpoint := c.cfg.BaseURL + "/videos"

	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()
	respBody, err := c.post(ctx, c.cfg.UploadTimeout, endpoint, contentType, body)
	if err != nil {
		return Session{}, c.classify(ctx, services.ErrUpload, stage, op, c.cfg.UploadTimeout, err)
	}

	var decoded uploadResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Session{}, services.Wrap(services.ErrUpload, stage, op, "undecodable response", err)
	}
	id := strings.TrimSpace(string(decoded.Video.ID))
	if id == "" {
		return Session{}, services.Wrap(services.ErrUpload, stage, op, "response carried no video id", nil)
	}
	logger.Info("audio uploaded",
		logging.String(logging.FieldEventType, "upload_complete"),
		logging.String(logging.FieldVideoID, id),
		logging.String("file", audio.Name()),
		logging.Int64("size_bytes", audio.Size()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return Session{VideoID: id}, nil
}

// RequestTranscription asks the service to transcribe the uploaded audio.
// prompt is optional free text (typically comma-separated keywords).
func (c *Coordinator) RequestTranscription(ctx context.Context, session Session, prompt string) error {
	const stage, op = "generating", "post transcription"
	id := strings.TrimSpace(session.VideoID)
	if id == "" {
		return services.Wrap(services.ErrTranscription, stage, op, "no upload session", services.ErrValidation)
	}
	encoded, err := json.Marshal(map[string]string{"prompt": strings.TrimSpace(prompt)})
	if err != nil {
		return services.Wrap(services.ErrTranscription, stage, op, "encode body", err)
	}
	endpoint := c.cfg.BaseURL + "/videos/" + url.PathEscape(id) + "/transcription"

	started := time.Now()
	if _, err := c.post(ctx, c.cfg.TranscriptionTimeout, endpoint, "application/json", encoded); err != nil {
		return c.classify(ctx, services.ErrTranscription, stage, op, c.cfg.TranscriptionTimeout, err)
	}
	logging.WithContext(ctx, c.logger).Info("transcription requested",
		logging.String(logging.FieldEventType, "transcription_complete"),
		logging.String(logging.FieldVideoID, id),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func multipartBody(audio media.AudioFile) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	name := textutil.SanitizeFileName(audio.Name())
	if name == "" {
		name = "output.mp3"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FormField, name))
	header.Set("Content-Type", audio.MIMEType())
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, audio.Reader()); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// classify maps a failed call onto the stage marker, separating caller
// cancellation and the per-call timeout from other failures.
func (c *Coordinator) classify(ctx context.Context, marker error, stage, op string, timeout time.Duration, err error) error {
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, stage, op, "", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.WithHint(
			services.Wrap(marker, stage, op, fmt.Sprintf("timed out after %s", timeout), fmt.Errorf("%w: %w", services.ErrTimeout, err)),
			"Check that the API server is reachable or raise the timeout in [api]",
		)
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return services.Wrap(marker, stage, op, statusErr.summary(), err)
	}
	return services.Wrap(marker, stage, op, "request failed", err)
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

func (e *httpStatusError) summary() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Body)
}

// post sends body with the retry policy; the whole call, retries included,
// is bounded by timeout.
func (c *Coordinator) post(ctx context.Context, timeout time.Duration, endpoint, contentType string, body []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		respBody, err := c.postOnce(callCtx, endpoint, contentType, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		delay, retry := c.retryDelay(callCtx, err, attempt, attempts)
		if !retry {
			return nil, err
		}
		c.logger.Warn("request failed, retrying",
			logging.String(logging.FieldEventType, "request_retry"),
			logging.String("endpoint", endpoint),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "retrying transient failure"),
		)
		if err := c.sleep(callCtx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func (c *Coordinator) postOnce(ctx context.Context, endpoint, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-Id", rid)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       snippet(respBody),
			RetryAfter: retryAfter,
		}
	}
	return respBody, nil
}

func snippet(body []byte) string {
	text := strings.Join(strings.Fields(string(body)), " ")
	if len(text) > maxErrorBody {
		return text[:maxErrorBody] + "..."
	}
	return text
}

func (c *Coordinator) retryAttempts() int {
	if c.cfg.RetryAttempts <= 0 {
		return 1
	}
	return c.cfg.RetryAttempts
}

// retryDelay retries transport failures, 408, 429 and 5xx responses.
func (c *Coordinator) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return c.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Coordinator) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Coordinator) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Coordinator) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
