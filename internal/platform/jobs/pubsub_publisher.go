package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/baraholka/api/internal/services"
)

// PubSubNotificationGateway publishes user-facing notifications to a Pub/Sub
// topic consumed by the Telegram bot transport.
type PubSubNotificationGateway struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationGateway constructs a Pub/Sub backed notification gateway.
func NewPubSubNotificationGateway(topic *pubsub.Topic) (*PubSubNotificationGateway, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification gateway: topic is required")
	}
	return &PubSubNotificationGateway{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type notificationMessage struct {
	UserID string            `json:"userId"`
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
	SentAt time.Time         `json:"sentAt"`
}

// Send enqueues the notification message on the configured topic.
func (g *PubSubNotificationGateway) Send(ctx context.Context, notification services.Notification) error {
	if g == nil || g.topic == nil {
		return errors.New("pubsub notification gateway: not initialised")
	}

	data, err := g.marshal(notificationMessage{
		UserID: notification.UserID,
		Kind:   notification.Kind,
		Params: notification.Params,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "userId", notification.UserID)
	setAttr(attrs, "kind", notification.Kind)

	result := g.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// PubSubModerationQueue hands listings to the external review pipeline over a
// Pub/Sub topic.
type PubSubModerationQueue struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubModerationQueue constructs a Pub/Sub backed moderation queue.
func NewPubSubModerationQueue(topic *pubsub.Topic) (*PubSubModerationQueue, error) {
	if topic == nil {
		return nil, errors.New("pubsub moderation queue: topic is required")
	}
	return &PubSubModerationQueue{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type moderationMessage struct {
	ListingID    string    `json:"listingId"`
	UserID       string    `json:"userId"`
	Reactivation bool      `json:"reactivation"`
	QueuedAt     time.Time `json:"queuedAt"`
}

// Submit enqueues the listing for review.
func (q *PubSubModerationQueue) Submit(ctx context.Context, submission services.ModerationSubmission) error {
	if q == nil || q.topic == nil {
		return errors.New("pubsub moderation queue: not initialised")
	}

	data, err := q.marshal(moderationMessage{
		ListingID:    submission.ListingID,
		UserID:       submission.UserID,
		Reactivation: submission.Reactivation,
		QueuedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal moderation submission: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "listingId", submission.ListingID)
	setAttr(attrs, "userId", submission.UserID)
	attrs["reactivation"] = strconv.FormatBool(submission.Reactivation)

	result := q.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish moderation submission: %w", err)
	}
	return nil
}

// PubSubJobDispatcher hands asset optimization work to the background worker
// over a Pub/Sub topic.
type PubSubJobDispatcher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubJobDispatcher constructs a Pub/Sub backed job dispatcher.
func NewPubSubJobDispatcher(topic *pubsub.Topic) (*PubSubJobDispatcher, error) {
	if topic == nil {
		return nil, errors.New("pubsub job dispatcher: topic is required")
	}
	return &PubSubJobDispatcher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type optimizeAsset struct {
	AssetID     string `json:"assetId"`
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
}

type optimizeMessage struct {
	ListingID string          `json:"listingId"`
	Assets    []optimizeAsset `json:"assets"`
	QueuedAt  time.Time       `json:"queuedAt"`
}

// DispatchAssetOptimize enqueues rendition work for the stored originals.
func (d *PubSubJobDispatcher) DispatchAssetOptimize(ctx context.Context, req services.AssetOptimizeRequest) error {
	if d == nil || d.topic == nil {
		return errors.New("pubsub job dispatcher: not initialised")
	}

	assets := make([]optimizeAsset, 0, len(req.Assets))
	for _, ref := range req.Assets {
		assets = append(assets, optimizeAsset{
			AssetID:     ref.ID,
			Path:        ref.Path,
			ContentType: ref.ContentType,
		})
	}

	data, err := d.marshal(optimizeMessage{
		ListingID: req.ListingID,
		Assets:    assets,
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal optimize job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "listingId", req.ListingID)
	attrs["assetCount"] = strconv.Itoa(len(assets))

	result := d.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish optimize job: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
