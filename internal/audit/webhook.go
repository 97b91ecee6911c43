package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Clinledger-Signature"

// WebhookSink POSTs every event to a single endpoint. Deliveries run in the
// background so a slow receiver never holds up a ledger operation.
type WebhookSink struct {
	url        string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewWebhookSink creates a WebhookSink. Failed deliveries are retried after
// 1s and 5s.
func NewWebhookSink(url, secret string, logger *zap.Logger) *WebhookSink {
	return &WebhookSink{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, time.Second, 5 * time.Second},
		logger:     logger,
	}
}

// SetRetryDelays overrides the delay before each delivery attempt.
// The first element is the delay before the first attempt.
func (s *WebhookSink) SetRetryDelays(delays []time.Duration) {
	if len(delays) > 0 {
		s.delays = delays
	}
}

// Emit implements Sink. It returns once the event is queued for delivery.
func (s *WebhookSink) Emit(_ context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(body, sign(body, s.secret))
	}()
	return nil
}

// Wait blocks until every queued delivery has finished.
func (s *WebhookSink) Wait() {
	s.wg.Wait()
}

func (s *WebhookSink) deliver(body []byte, signature string) {
	for attempt, delay := range s.delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		ok, errMsg := s.post(body, signature)
		if ok {
			return
		}
		s.logger.Warn("audit webhook delivery failed",
			zap.String("url", s.url),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
	s.logger.Error("audit webhook delivery abandoned", zap.String("url", s.url))
}

func (s *WebhookSink) post(body []byte, signature string) (bool, string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
// Receivers use it to authenticate deliveries.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(sign(body, secret)), []byte(signature))
}
