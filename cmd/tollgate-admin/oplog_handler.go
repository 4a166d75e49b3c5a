package main

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/httputil"
	"github.com/tollgate-bot/tollgate/internal/oplog"
)

// auditHandler serves a read-only view of the operator-actions log named in spec.md §6.
type auditHandler struct {
	oplog oplog.Logger
	log   zerolog.Logger
}

func newAuditHandler(oplogger oplog.Logger, logger zerolog.Logger) *auditHandler {
	return &auditHandler{oplog: oplogger, log: logger}
}

// Recent handles GET /api/v1/audit?limit=100.
func (h *auditHandler) Recent(c fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	entries, err := h.oplog.Recent(c, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to fetch operator-actions log")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to fetch operator-actions log")
	}
	return httputil.Success(c, entries)
}
