// Package consumers contains Kafka consumers for background processing tasks.
package consumers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
	"github.com/turtacn/riskguard/pkg/utils"
)

// FeedbackHandler applies a verdict to the profile of the assessed user.
type FeedbackHandler interface {
	ApplyFeedback(ctx context.Context, feedback *models.RiskFeedback) error
}

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FeedbackConsumer reads analyst and case-management verdicts from Kafka and feeds
// them into profile learning. All instances share one consumer group.
type FeedbackConsumer struct {
	reader  MessageReader
	handler FeedbackHandler
	logger  logger.Logger
	backoff time.Duration
}

// NewFeedbackConsumer creates a consumer on kafka.feedback_topic.
func NewFeedbackConsumer(cfg config.KafkaConfig, handler FeedbackHandler, log logger.Logger) *FeedbackConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.FeedbackTopic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,    // commit synchronously
	})
	return NewFeedbackConsumerWithReader(reader, handler, log)
}

// NewFeedbackConsumerWithReader wraps an existing reader.
func NewFeedbackConsumerWithReader(reader MessageReader, handler FeedbackHandler, log logger.Logger) *FeedbackConsumer {
	return &FeedbackConsumer{
		reader:  reader,
		handler: handler,
		logger:  log.WithComponent("FeedbackConsumer"),
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. It is blocking and closes the reader on return.
func (c *FeedbackConsumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "starting feedback consumer")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error(context.Background(), "failed to close kafka reader", err)
		}
		c.logger.Info(context.Background(), "feedback consumer stopped")
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error(ctx, "failed to fetch message from kafka", err)
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}
		if c.process(ctx, msg) {
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Error(ctx, "failed to commit feedback message", err, logger.Int64("offset", msg.Offset))
			}
		}
	}
}

// process handles one message and reports whether it should be committed.
// Undecodable or invalid messages are committed so they are not redelivered.
func (c *FeedbackConsumer) process(ctx context.Context, msg kafka.Message) bool {
	var fb models.RiskFeedback
	if err := json.Unmarshal(msg.Value, &fb); err != nil {
		c.logger.Error(ctx, "failed to unmarshal feedback event", err, logger.String("kafka_message", string(msg.Value)))
		return true
	}
	if verr := utils.ValidateStruct(&fb); verr != nil {
		c.logger.Warn(ctx, "discarding invalid feedback event", logger.Error(verr), logger.Int64("offset", msg.Offset))
		return true
	}

	err := c.handler.ApplyFeedback(ctx, &fb)
	switch {
	case err == nil:
		return true
	case errors.IsNotFoundError(err) || errors.IsInvalidRequestError(err):
		c.logger.Warn(ctx, "feedback refers to unknown data, skipping",
			logger.String("assessment_id", fb.AssessmentID), logger.Error(err))
		return true
	default:
		c.logger.Error(ctx, "failed to apply feedback", err,
			logger.String("assessment_id", fb.AssessmentID), logger.String("user_id", fb.UserID))
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
