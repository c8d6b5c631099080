package webpush

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/maicoln90cpu/boardmd-sub001/codec"
)

// Send sends a single notification payload to a subscription and reports
// only success or failure. Batch dispatch with outcome classification goes
// through SendBatch.
func (c *Client) Send(ctx context.Context, sub *Subscription, payload []byte, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}

	enc, err := sub.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("encrypting payload: %w", err)
	}

	authHeader, err := c.auth.AuthorizationHeader(ctx, sub.Endpoint)
	if err != nil {
		return fmt.Errorf("creating VAPID header: %w", err)
	}

	status, err := c.post(ctx, sub.Endpoint, authHeader, enc, opts)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("push service returned %d", status)
	}
	return nil
}

// SendBatch fans one notification out to every target concurrently. Each
// target runs its own pipeline with its own ephemeral keys, salt and VAPID
// token; one target's failure never aborts the others. The result is
// computed after every attempt has settled.
func (c *Client) SendBatch(ctx context.Context, n *Notification, targets []Target) *BatchResult {
	outcomes := make([]*DeliveryOutcome, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			outcomes[i] = c.Deliver(ctx, n, target)
		}(i, target)
	}
	wg.Wait()

	result := &BatchResult{Total: len(targets)}
	for _, o := range outcomes {
		if o.Success {
			result.Sent++
		} else {
			result.Failed++
		}
	}
	clog.FromContext(ctx).Infof("push batch settled: %d sent, %d failed, %d total",
		result.Sent, result.Failed, result.Total)
	return result
}

// Deliver runs the full pipeline for one target and returns its outcome.
// The outcome is also written to the delivery log when one is configured.
func (c *Client) Deliver(ctx context.Context, n *Notification, target Target) *DeliveryOutcome {
	outcome := c.deliver(ctx, n, target)
	outcome.SubscriptionID = target.ID
	outcome.DeviceName = target.DeviceName
	outcome.NotificationType = n.Type

	log := clog.FromContext(ctx)
	if !outcome.Success {
		log.Warnf("push to %s failed: %s", target.ID, outcome.ErrorMessage)
	}
	if c.outcomes != nil {
		if err := c.outcomes.LogOutcome(ctx, outcome); err != nil {
			log.Errorf("recording delivery outcome for %s: %v", target.ID, err)
		}
	}
	return outcome
}

func (c *Client) deliver(ctx context.Context, n *Notification, target Target) *DeliveryOutcome {
	sub := target.Subscription

	// Shape-check the key material before any cryptography or network I/O.
	// Malformed records are a permanent failure but are never pruned; the
	// registry entry may still be fixable.
	if err := sub.Validate(); err != nil {
		return &DeliveryOutcome{ErrorMessage: err.Error()}
	}

	payload, err := n.Payload()
	if err != nil {
		return &DeliveryOutcome{ErrorMessage: err.Error()}
	}

	// Latency covers VAPID signing through response receipt.
	start := time.Now()

	authHeader, err := c.auth.AuthorizationHeader(ctx, sub.Endpoint)
	if err != nil {
		return &DeliveryOutcome{ErrorMessage: fmt.Sprintf("creating VAPID header: %v", err)}
	}

	enc, err := sub.Encrypt(payload)
	if err != nil {
		return &DeliveryOutcome{ErrorMessage: fmt.Sprintf("encrypting payload: %v", err)}
	}

	var status int
	for attempt := 0; ; attempt++ {
		status, err = c.post(ctx, sub.Endpoint, authHeader, enc, &Options{TTL: DefaultTTL})
		if err != nil {
			return &DeliveryOutcome{
				LatencyMs:    time.Since(start).Milliseconds(),
				ErrorMessage: fmt.Sprintf("sending request: %v", err),
			}
		}
		if status >= 500 && status < 600 && attempt < c.retry5xx {
			continue
		}
		break
	}

	latency := time.Since(start).Milliseconds()

	switch {
	case status >= 200 && status < 300:
		return &DeliveryOutcome{Success: true, StatusCode: status, LatencyMs: latency}

	case status == http.StatusNotFound || status == http.StatusGone:
		// The push service has revoked the endpoint; prune it.
		if c.registry != nil && target.ID != "" {
			if err := c.registry.Delete(ctx, target.ID); err != nil {
				clog.FromContext(ctx).Errorf("deleting expired subscription %s: %v", target.ID, err)
			} else {
				clog.FromContext(ctx).Infof("deleted expired subscription %s", target.ID)
			}
		}
		return &DeliveryOutcome{
			StatusCode:   status,
			LatencyMs:    latency,
			ErrorMessage: fmt.Sprintf("push service returned %d: subscription expired", status),
		}

	default:
		return &DeliveryOutcome{
			StatusCode:   status,
			LatencyMs:    latency,
			ErrorMessage: fmt.Sprintf("push service returned %d", status),
		}
	}
}

// post issues one POST to the push endpoint with the RFC 8030 header set.
// The Crypto-Key and Encryption headers repeat material already present in
// the aes128gcm body header; legacy services read them.
func (c *Client) post(ctx context.Context, endpoint, authHeader string, enc *EncryptionResult, opts *Options) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(enc.Record))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("TTL", strconv.Itoa(opts.TTL))
	req.Header.Set("Crypto-Key", "dh="+codec.Encode(enc.LocalPublicKey))
	req.Header.Set("Encryption", "salt="+codec.Encode(enc.Salt))

	if opts.Urgency != "" {
		req.Header.Set("Urgency", opts.Urgency)
	}
	if opts.Topic != "" {
		req.Header.Set("Topic", opts.Topic)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
