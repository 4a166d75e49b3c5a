package main

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/httputil"
	"github.com/tollgate-bot/tollgate/internal/oplog"
	"github.com/tollgate-bot/tollgate/internal/setting"
)

// settingHandler serves CRUD on the flat operator-configurable settings table named in spec.md §6. There is no
// settings editor UI here, just the state-store reads and writes that would back one.
type settingHandler struct {
	settings setting.Repository
	oplog    oplog.Logger
	log      zerolog.Logger
}

func newSettingHandler(settings setting.Repository, oplogger oplog.Logger, logger zerolog.Logger) *settingHandler {
	return &settingHandler{settings: settings, oplog: oplogger, log: logger}
}

// List handles GET /api/v1/settings.
func (h *settingHandler) List(c fiber.Ctx) error {
	all, err := h.settings.GetAll(c)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list settings")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to list settings")
	}
	return httputil.Success(c, all)
}

// Get handles GET /api/v1/settings/:key.
func (h *settingHandler) Get(c fiber.Ctx) error {
	key := c.Params("key")
	value, ok, err := h.settings.Get(c, key)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to read setting")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to read setting")
	}
	if !ok {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.KindNotFound, "setting not found")
	}
	return httputil.Success(c, fiber.Map{"key": key, "value": value})
}

type setSettingRequest struct {
	Value string `json:"value"`
}

// Set handles PUT /api/v1/settings/:key.
func (h *settingHandler) Set(c fiber.Ctx) error {
	key := c.Params("key")
	var body setSettingRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "invalid request body")
	}

	if err := h.settings.Set(c, key, body.Value); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("failed to set setting")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to set setting")
	}

	if err := h.oplog.Record(c, nil, oplog.ActionSettingChanged, "key="+key); err != nil {
		h.log.Warn().Err(err).Str("action", oplog.ActionSettingChanged).Msg("failed to append operator-actions entry")
	}
	return httputil.Success(c, fiber.Map{"key": key, "value": body.Value})
}
