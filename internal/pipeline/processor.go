package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-receiver/internal/router"
	"github.com/tinywideclouds/go-push-receiver/pkg/notification"
)

// BatchRouter applies a decoded batch to the notification surface.
type BatchRouter interface {
	Route(ctx context.Context, batch *notification.Batch) router.Result
}

// NewProcessor routes each decoded batch. Routing failures are contained by
// the router, so the processor never asks for a redelivery.
func NewProcessor(r BatchRouter, logger *slog.Logger) messagepipeline.StreamProcessor[notification.Batch] {
	return func(ctx context.Context, original messagepipeline.Message, batch *notification.Batch) error {
		result := r.Route(context.WithoutCancel(ctx), batch)
		logger.Debug("Routed push", "pubsub_msg_id", original.ID, "posted", result.Posted, "cancelled", result.Cancelled)
		return nil
	}
}

// Handler runs deliveries that arrive outside the streaming service, such as
// the HTTP ingest endpoint, through the same decoder and router.
type Handler struct {
	decoder *Decoder
	router  BatchRouter
}

func NewHandler(decoder *Decoder, r BatchRouter) *Handler {
	return &Handler{decoder: decoder, router: r}
}

// Handle decodes and routes msg. It reports whether the delivery was routed;
// a false result means it was dropped and already logged.
func (h *Handler) Handle(ctx context.Context, msg RemoteMessage) (router.Result, bool) {
	batch, err := h.decoder.Decode(ctx, msg)
	if err != nil {
		return router.Result{}, false
	}
	return h.router.Route(context.WithoutCancel(ctx), batch), true
}
