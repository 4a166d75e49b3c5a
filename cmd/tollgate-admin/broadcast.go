package main

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/broadcast"
	"github.com/tollgate-bot/tollgate/internal/httputil"
	"github.com/tollgate-bot/tollgate/internal/oplog"
)

// broadcastHandler exposes the fan-out mechanics of internal/broadcast as a plain JSON operation. There is no
// authoring UI here (out of scope), just "send this text to these chat ids" for whatever calls the admin API.
type broadcastHandler struct {
	broadcaster *broadcast.Broadcaster
	oplog       oplog.Logger
	log         zerolog.Logger
}

func newBroadcastHandler(b *broadcast.Broadcaster, oplogger oplog.Logger, logger zerolog.Logger) *broadcastHandler {
	return &broadcastHandler{broadcaster: b, oplog: oplogger, log: logger}
}

type broadcastRequest struct {
	Recipients []int64 `json:"recipients"`
	Text       string  `json:"text"`
}

type broadcastResponse struct {
	Sent    int     `json:"sent"`
	Blocked []int64 `json:"blocked"`
	Failed  int     `json:"failed"`
}

// Send handles POST /api/v1/broadcast.
func (h *broadcastHandler) Send(c fiber.Ctx) error {
	var body broadcastRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "invalid request body")
	}
	if len(body.Recipients) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "recipients must not be empty")
	}
	if body.Text == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "text must not be empty")
	}

	result, err := h.broadcaster.Send(c, body.Recipients, body.Text)
	if err != nil {
		h.log.Error().Err(err).Msg("broadcast cancelled before completion")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "broadcast did not complete")
	}

	if recErr := h.oplog.Record(c, nil, oplog.ActionBroadcastSent, "recipients="+itoa64(int64(len(body.Recipients)))); recErr != nil {
		h.log.Warn().Err(recErr).Msg("failed to append operator-actions entry")
	}

	return httputil.Success(c, broadcastResponse{
		Sent:    result.Sent,
		Blocked: result.Blocked,
		Failed:  len(result.Failed),
	})
}
