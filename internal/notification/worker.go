package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"shortlet-escrow-backend/internal/model"
)

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool is the webpush-backed Notifier. Notify enqueues; a pool of
// workers drains the queue so a slow push endpoint never stalls the caller.
type WorkerPool struct {
	size    int
	jobs    chan Intent
	db      *gorm.DB
	webpush *webpush.Options
	sender  PushSender
	logger  *zap.Logger
}

// NewWorkerPool creates a new notification worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Intent, size*8),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	for {
		select {
		case intent := <-wp.jobs:
			wp.deliver(ctx, intent)
		case <-ctx.Done():
			wp.logger.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Notify enqueues a notification for delivery. It never blocks and never
// returns an error: when the queue is full the notification is dropped and
// logged, which is acceptable for a best-effort sink.
func (wp *WorkerPool) Notify(userID, eventType string, payload map[string]string) {
	select {
	case wp.jobs <- Intent{UserID: userID, EventType: eventType, Payload: payload}:
	default:
		wp.logger.Warn("notification queue full, dropping",
			zap.String("user_id", userID),
			zap.String("event_type", eventType))
	}
}

// deliver sends the notification to every subscription the user has.
func (wp *WorkerPool) deliver(ctx context.Context, intent Intent) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("user_id = ?", intent.UserID).
		Find(&subscriptions).Error
	if err != nil {
		wp.logger.Error("failed to fetch subscriptions",
			zap.String("user_id", intent.UserID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	body, err := json.Marshal(map[string]any{
		"type":    intent.EventType,
		"payload": intent.Payload,
	})
	if err != nil {
		wp.logger.Error("failed to marshal notification payload", zap.Error(err))
		return
	}

	for _, sub := range subscriptions {
		wp.send(ctx, sub, body)
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Warn("failed to send push notification",
			zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Prune subscriptions the push service reports as gone.
	if resp.StatusCode == http.StatusGone {
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.logger.Warn("failed to delete expired subscription",
				zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
