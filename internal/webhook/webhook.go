// Copyright 2025 James Ross
// Package webhook delivers HMAC-signed, rate-limited HTTP notifications
// for dead-letter and jobgroup lifecycle events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/queue"
)

// Notifier posts signed JSON payloads to a configured URL, rate-limited so
// a burst of dead-letters or jobgroup transitions can't hammer a
// downstream receiver.
type Notifier struct {
	client      *http.Client
	dlqURL      string
	jobgroupURL string
	secret      string
	limiter     *rate.Limiter
	log         *zap.Logger
}

// New builds a Notifier from cfg.Webhook. A zero RateLimitRPS disables
// rate limiting (every call is allowed through immediately).
func New(cfg config.Webhook, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Notifier{
		client:      &http.Client{Timeout: timeout},
		dlqURL:      cfg.DLQURL,
		jobgroupURL: cfg.JobgroupURL,
		secret:      cfg.Secret,
		limiter:     limiter,
		log:         log,
	}
}

// dlqEventPayload is the wire shape posted for a dead-letter notification.
type dlqEventPayload struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	DeliveryID string         `json:"delivery_id"`
	Entry     queue.DLQEntry  `json:"entry"`
}

// NotifyDLQ implements resilience.DLQNotifier: posts entry to the
// configured DLQ webhook URL, doing nothing if no URL is configured.
func (n *Notifier) NotifyDLQ(ctx context.Context, entry queue.DLQEntry) error {
	if n.dlqURL == "" {
		return nil
	}
	return n.post(ctx, n.dlqURL, "dlq.entry", dlqEventPayload{
		Event:     "dlq.entry",
		Timestamp: time.Now().UTC(),
		Entry:     entry,
	})
}

// JobgroupEvent is the wire shape posted for a jobgroup lifecycle
// transition (created, completed, failed, cancelled).
type JobgroupEvent struct {
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
	DeliveryID string    `json:"delivery_id"`
	JobgroupID string    `json:"jobgroup_id"`
	TenantID   string    `json:"tenant_id"`
	BatchID    string    `json:"batch_id,omitempty"`
	Status     string    `json:"status"`
	Processed  int       `json:"processed,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Skipped    int       `json:"skipped,omitempty"`
}

// NotifyJobgroup posts a jobgroup lifecycle event (e.g. "jobgroup.created",
// "jobgroup.completed", "jobgroup.failed") to the configured jobgroup
// webhook URL.
func (n *Notifier) NotifyJobgroup(ctx context.Context, event JobgroupEvent) error {
	if n.jobgroupURL == "" {
		return nil
	}
	event.Event = strings.TrimSpace(event.Event)
	event.Timestamp = time.Now().UTC()
	return n.post(ctx, n.jobgroupURL, event.Event, event)
}

func (n *Notifier) post(ctx context.Context, url, eventName string, payload interface{}) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewSerialization(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewExternalAPI(0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", eventName)
	deliveryID := uuid.NewString()
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.NewExternalAPI(0, err.Error())
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.log.Warn("webhook delivery failed",
			zap.String("event", eventName),
			zap.String("delivery_id", deliveryID),
			zap.Int("status", resp.StatusCode),
		)
		return apperrors.NewExternalAPI(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	n.log.Debug("webhook delivered", zap.String("event", eventName), zap.String("delivery_id", deliveryID))
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return fmt.Sprintf("sha256=%x", h.Sum(nil))
}
