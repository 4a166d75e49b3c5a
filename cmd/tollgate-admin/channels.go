package main

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/channelcfg"
	"github.com/tollgate-bot/tollgate/internal/httputil"
	"github.com/tollgate-bot/tollgate/internal/oplog"
)

// channelHandler serves CRUD on the force-subscription Channel Entries named in spec.md §6.
type channelHandler struct {
	channels channelcfg.Repository
	oplog    oplog.Logger
	log      zerolog.Logger
}

func newChannelHandler(channels channelcfg.Repository, oplogger oplog.Logger, logger zerolog.Logger) *channelHandler {
	return &channelHandler{channels: channels, oplog: oplogger, log: logger}
}

// List handles GET /api/v1/channels.
func (h *channelHandler) List(c fiber.Ctx) error {
	entries, err := h.channels.List(c)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list channel entries")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to list channel entries")
	}
	return httputil.Success(c, entries)
}

type createChannelRequest struct {
	Handle       string `json:"handle"`
	PublicLink   string `json:"public_link"`
	CTALabel     string `json:"cta_label"`
	DisplayOrder int    `json:"display_order"`
}

// Create handles POST /api/v1/channels.
func (h *channelHandler) Create(c fiber.Ctx) error {
	var body createChannelRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "invalid request body")
	}

	handle, err := channelcfg.ValidateHandle(body.Handle)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, err.Error())
	}
	label, err := channelcfg.ValidateCTALabel(body.CTALabel)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, err.Error())
	}
	if body.DisplayOrder < 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, channelcfg.ErrInvalidOrder.Error())
	}

	entry, err := h.channels.Create(c, channelcfg.CreateParams{
		Handle:       handle,
		PublicLink:   body.PublicLink,
		CTALabel:     label,
		DisplayOrder: body.DisplayOrder,
	})
	if err != nil {
		if errors.Is(err, channelcfg.ErrHandleExists) {
			return httputil.Fail(c, fiber.StatusConflict, apierrors.KindConflict, "channel handle already registered")
		}
		h.log.Error().Err(err).Msg("failed to create channel entry")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to create channel entry")
	}

	h.record(c, oplog.ActionChannelCreated, entry.ID)
	return httputil.SuccessStatus(c, fiber.StatusCreated, entry)
}

type updateChannelRequest struct {
	PublicLink   *string `json:"public_link"`
	CTALabel     *string `json:"cta_label"`
	DisplayOrder *int    `json:"display_order"`
	Active       *bool   `json:"active"`
}

// Update handles PATCH /api/v1/channels/:id.
func (h *channelHandler) Update(c fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "id must be an integer")
	}

	var body updateChannelRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "invalid request body")
	}
	if body.CTALabel != nil {
		label, err := channelcfg.ValidateCTALabel(*body.CTALabel)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, err.Error())
		}
		body.CTALabel = &label
	}
	if body.DisplayOrder != nil && *body.DisplayOrder < 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, channelcfg.ErrInvalidOrder.Error())
	}

	entry, updErr := h.channels.Update(c, int64(id), channelcfg.UpdateParams{
		PublicLink:   body.PublicLink,
		CTALabel:     body.CTALabel,
		DisplayOrder: body.DisplayOrder,
		Active:       body.Active,
	})
	if updErr != nil {
		if errors.Is(updErr, channelcfg.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.KindNotFound, "channel entry not found")
		}
		h.log.Error().Err(updErr).Int64("id", int64(id)).Msg("failed to update channel entry")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to update channel entry")
	}

	h.record(c, oplog.ActionChannelUpdated, entry.ID)
	return httputil.Success(c, entry)
}

// Delete handles DELETE /api/v1/channels/:id.
func (h *channelHandler) Delete(c fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "id must be an integer")
	}

	if delErr := h.channels.Delete(c, int64(id)); delErr != nil {
		if errors.Is(delErr, channelcfg.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.KindNotFound, "channel entry not found")
		}
		h.log.Error().Err(delErr).Int64("id", int64(id)).Msg("failed to delete channel entry")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to delete channel entry")
	}

	h.record(c, oplog.ActionChannelDeleted, int64(id))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *channelHandler) record(c fiber.Ctx, action string, id int64) {
	if err := h.oplog.Record(c, nil, action, "channel_id="+itoa64(id)); err != nil {
		h.log.Warn().Err(err).Str("action", action).Msg("failed to append operator-actions entry")
	}
}
