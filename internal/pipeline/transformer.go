package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-receiver/pkg/notification"
)

// NewPushMessageTransformer adapts the decoder to the streaming service.
// The Pub/Sub message body is a RemoteMessage in JSON.
//
// Undecodable deliveries are skipped without an error so they are
// acknowledged: they will never decode on a retry either.
func NewPushMessageTransformer(
	decoder *Decoder,
	logger *slog.Logger,
) func(ctx context.Context, msg *messagepipeline.Message) (*notification.Batch, bool, error) {
	return func(ctx context.Context, msg *messagepipeline.Message) (*notification.Batch, bool, error) {
		var remote RemoteMessage
		if err := json.Unmarshal(msg.Payload, &remote); err != nil {
			logger.Warn("Dropping push: delivery is not a remote message", "pubsub_msg_id", msg.ID, "err", err)
			return nil, true, nil
		}
		batch, err := decoder.Decode(ctx, remote)
		if err != nil {
			return nil, true, nil
		}
		return batch, false, nil
	}
}
