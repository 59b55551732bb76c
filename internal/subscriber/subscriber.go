package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

// Announcer receives validated announcements.
type Announcer interface {
	Announce(content string)
}

type Subscriber struct {
	logger    *slog.Logger
	client    *redis.Client
	topic     string
	announcer Announcer
	validate  *validator.Validate
}

func NewSubscriber(logger *slog.Logger, client *redis.Client, topic string, announcer Announcer) *Subscriber {
	return &Subscriber{
		logger:    logger,
		client:    client,
		topic:     topic,
		announcer: announcer,
		validate:  validator.New(),
	}
}

// Start consumes the topic until ctx is cancelled or Redis closes the channel.
func (s *Subscriber) Start(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.topic)
	defer func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Warn("failed to close pubsub", "error", err)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %q: %w", s.topic, err)
	}
	s.logger.Info("Redis subscriber is running", "topic", s.topic)

	msgCh := pubsub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				s.logger.Warn("pubsub channel closed by Redis")
				return nil
			}
			if err := s.handleMessage(msg); err != nil {
				s.logger.Error("error handling message", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("shutting down Redis subscriber")
			return nil
		}
	}
}

func (s *Subscriber) handleMessage(msg *redis.Message) error {
	var a Announcement
	if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
		return fmt.Errorf("unmarshalling announcement: %w", err)
	}
	if err := s.validate.Struct(a); err != nil {
		return fmt.Errorf("invalid announcement: %w", err)
	}
	s.logger.Debug("received announcement", "content", a.Content)
	s.announcer.Announce(a.Content)
	return nil
}
