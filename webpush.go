// Package webpush delivers end-to-end-encrypted Web Push notifications
// using VAPID authentication, per RFC 8030 (delivery), RFC 8291 (message
// encryption) and RFC 8292 (VAPID).
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/maicoln90cpu/boardmd-sub001/codec"
	"github.com/maicoln90cpu/boardmd-sub001/vapid"
)

// ErrMalformedSubscription is returned when a subscription's key material
// fails the P-256/auth-secret shape invariants. Such a subscription is never
// dispatched and never deleted; the stored record may still be fixable.
var ErrMalformedSubscription = errors.New("malformed subscription")

// Subscription represents a Web Push subscription from a client.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Keys contains the client's encryption keys.
type Keys struct {
	P256dh string `json:"p256dh"` // Client's ECDH public key
	Auth   string `json:"auth"`   // Client's authentication secret
}

// decodeKeys decodes and shape-checks the subscription's key material:
// p256dh must be a 65-byte uncompressed P-256 point and auth a 16-byte
// secret. All failures wrap ErrMalformedSubscription.
func (s *Subscription) decodeKeys() (p256dh, auth []byte, err error) {
	p256dh, err = codec.Decode(s.Keys.P256dh)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decoding p256dh: %v", ErrMalformedSubscription, err)
	}
	if len(p256dh) != 65 || p256dh[0] != 0x04 {
		return nil, nil, fmt.Errorf("%w: p256dh must be a 65-byte uncompressed point, got %d bytes", ErrMalformedSubscription, len(p256dh))
	}
	auth, err = codec.Decode(s.Keys.Auth)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decoding auth: %v", ErrMalformedSubscription, err)
	}
	if len(auth) != 16 {
		return nil, nil, fmt.Errorf("%w: auth must be 16 bytes, got %d", ErrMalformedSubscription, len(auth))
	}
	return p256dh, auth, nil
}

// Validate checks the subscription's key invariants without dispatching.
func (s *Subscription) Validate() error {
	_, _, err := s.decodeKeys()
	return err
}

// ParseSubscription parses a subscription from JSON.
func ParseSubscription(data []byte) (*Subscription, error) {
	var sub Subscription
	if err := unmarshalSubscription(data, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func unmarshalSubscription(data []byte, sub *Subscription) error {
	if err := json.Unmarshal(data, sub); err != nil {
		return fmt.Errorf("unmarshaling subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return errors.New("subscription endpoint is required")
	}
	if sub.Keys.P256dh == "" {
		return errors.New("subscription p256dh key is required")
	}
	if sub.Keys.Auth == "" {
		return errors.New("subscription auth key is required")
	}
	if !strings.HasPrefix(sub.Endpoint, "https://") {
		return errors.New("subscription endpoint must use HTTPS")
	}
	return nil
}

// Target is one delivery destination: a subscription plus the registry
// metadata carried through to delivery outcomes.
type Target struct {
	ID           string
	DeviceName   string
	Subscription *Subscription
}

// Notification is the logical message to deliver.
type Notification struct {
	Title string         // required
	Body  string         // required
	Icon  string         // optional icon path for the service worker
	Badge string         // optional badge path for the service worker
	URL   string         // click-through target, defaults to "/"
	Data  map[string]any // free-form payload, merged into the data envelope
	Type  string         // notification type tag, carried to logs only
}

type envelope struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Badge string         `json:"badge,omitempty"`
	Data  map[string]any `json:"data"`
}

// Payload serializes the notification into the envelope the service worker
// consumes: {title, body, icon, badge, data: {url, ...data}}.
func (n *Notification) Payload() ([]byte, error) {
	if n.Title == "" || n.Body == "" {
		return nil, errors.New("notification title and body are required")
	}
	data := map[string]any{"url": "/"}
	if n.URL != "" {
		data["url"] = n.URL
	}
	for k, v := range n.Data {
		data[k] = v
	}
	return json.Marshal(envelope{
		Title: n.Title,
		Body:  n.Body,
		Icon:  n.Icon,
		Badge: n.Badge,
		Data:  data,
	})
}

// DeliveryOutcome is the result of one dispatch attempt, handed to the
// delivery log collaborator.
type DeliveryOutcome struct {
	SubscriptionID   string `json:"subscription_id"`
	DeviceName       string `json:"device_name,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
	Success          bool   `json:"success"`
	StatusCode       int    `json:"status_code,omitempty"` // 0 when no HTTP response was received
	LatencyMs        int64  `json:"latency_ms"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// BatchResult aggregates a fan-out after every attempt has settled.
type BatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Signer provides VAPID signing functionality.
type Signer interface {
	// Sign signs the given SHA-256 digest and returns the signature in
	// JOSE form (r || s, 64 bytes).
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	// PublicKey returns the public key as an uncompressed P-256 point.
	PublicKey() []byte
}

// Registry is the subscription-registry collaborator. The engine only ever
// deletes: a 404/410 from the push service means the endpoint is
// permanently gone.
type Registry interface {
	Delete(ctx context.Context, id string) error
}

// OutcomeLogger is the delivery-log collaborator. One outcome is written
// per dispatch attempt, success or failure.
type OutcomeLogger interface {
	LogOutcome(ctx context.Context, outcome *DeliveryOutcome) error
}

// Options configures a single Send.
type Options struct {
	TTL     int    // Time-to-live in seconds (default 86400)
	Urgency string // Urgency level: very-low, low, normal, high
	Topic   string // Topic for message replacement
}

// DefaultTTL is the TTL requested from the push service when none is given.
const DefaultTTL = 86400

// Client sends Web Push notifications.
type Client struct {
	auth       *vapid.Authenticator
	signer     Signer
	httpClient *http.Client
	registry   Registry
	outcomes   OutcomeLogger
	retry5xx   int
}

// NewClient creates a new Web Push client. subject is the VAPID contact
// URI (mailto: or https: URL).
func NewClient(signer Signer, subject string) (*Client, error) {
	auth, err := vapid.New(signer, subject)
	if err != nil {
		return nil, err
	}
	return &Client{
		auth:       auth,
		signer:     signer,
		httpClient: http.DefaultClient,
	}, nil
}

// WithHTTPClient sets a custom HTTP client. Per-request timeouts toward the
// push service should be bounded here.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// WithRegistry sets the subscription registry used to prune endpoints the
// push service reports gone.
func (c *Client) WithRegistry(r Registry) *Client {
	c.registry = r
	return c
}

// WithOutcomeLogger sets the delivery-log collaborator.
func (c *Client) WithOutcomeLogger(l OutcomeLogger) *Client {
	c.outcomes = l
	return c
}

// WithRetry5xx allows up to n bounded retries of a dispatch when the push
// service answers 5xx. Default is 0: any failure is final and retry policy
// belongs to the caller.
func (c *Client) WithRetry5xx(n int) *Client {
	if n > 0 {
		c.retry5xx = n
	}
	return c
}

// PublicKeyBase64 returns the VAPID public key in the applicationServerKey
// form.
func (c *Client) PublicKeyBase64() string {
	return codec.Encode(c.signer.PublicKey())
}
