package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/olegin77/TUSD-sub001/internal/service/mq"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
	"github.com/olegin77/TUSD-sub001/pkg/logger"
)

// TopicBridgeConfirmations carries validator votes back from the bridge
// validator set.
const TopicBridgeConfirmations = "vault.bridge.confirmations"

// confirmationMessage is one validator's vote for an intent.
type confirmationMessage struct {
	IntentID  uint64 `json:"intent_id"`
	Validator string `json:"validator"`
}

// ConfirmationConsumer 桥接确认消费者
// Applies validator confirmations arriving over MQ to their intents.
// Redelivered votes past the threshold are acknowledged without effect,
// so the handler stays idempotent under at-least-once delivery.
type ConfirmationConsumer struct {
	bridge   *BridgeService
	consumer mq.Consumer
}

func NewConfirmationConsumer(bridge *BridgeService, consumer mq.Consumer) *ConfirmationConsumer {
	return &ConfirmationConsumer{bridge: bridge, consumer: consumer}
}

// Start consumes the confirmations topic until ctx is cancelled.
func (c *ConfirmationConsumer) Start(ctx context.Context) error {
	return c.consumer.Subscribe(ctx, TopicBridgeConfirmations, func(msg *mq.Message) error {
		return c.handle(ctx, msg)
	})
}

func (c *ConfirmationConsumer) handle(ctx context.Context, msg *mq.Message) error {
	var vote confirmationMessage
	if err := json.Unmarshal(msg.Payload, &vote); err != nil {
		// Poison entry: ack it, redelivery cannot fix a bad payload.
		logger.Warn("bridge confirmation with undecodable payload",
			zap.String("id", msg.ID), zap.Error(err))
		return nil
	}

	_, err := c.bridge.ConfirmIntent(ctx, vote.IntentID)
	if err != nil {
		if errors.Is(err, errno.ErrIntentNotFound) {
			// Unknown intent or already confirmed; drop the vote.
			logger.Warn("bridge confirmation for non-pending intent",
				zap.Uint64("intent_id", vote.IntentID), zap.String("validator", vote.Validator))
			return nil
		}
		return err
	}
	logger.Info("bridge confirmation applied",
		zap.Uint64("intent_id", vote.IntentID), zap.String("validator", vote.Validator))
	return nil
}
