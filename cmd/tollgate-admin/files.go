package main

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/archive"
	"github.com/tollgate-bot/tollgate/internal/file"
	"github.com/tollgate-bot/tollgate/internal/httputil"
	"github.com/tollgate-bot/tollgate/internal/oplog"
)

// fileHandler serves the File Record CRUD surface named in spec.md §6: register an upload, look it up, remove it.
// There is no upload wizard here — the operator already has the archive coordinate from Telegram before calling
// this API; fileHandler only validates and persists it.
type fileHandler struct {
	files          file.Repository
	probe          *archive.Probe
	privateStoreID int64
	publicGroupID  int64
	oplog          oplog.Logger
	log            zerolog.Logger
}

// newFileHandler wires the operator's configured private-storage and public-group channel coordinates into the
// handler so every registered File Record is pinned to the deployment's own channels, not wherever the caller
// happened to point the archive/public chat_id.
func newFileHandler(files file.Repository, probe *archive.Probe, privateStoreID, publicGroupID int64, oplogger oplog.Logger, logger zerolog.Logger) *fileHandler {
	return &fileHandler{
		files:          files,
		probe:          probe,
		privateStoreID: privateStoreID,
		publicGroupID:  publicGroupID,
		oplog:          oplogger,
		log:            logger,
	}
}

type createFileRequest struct {
	PostNo   int64          `json:"post_no"`
	Title    string         `json:"title"`
	Extra    string         `json:"extra"`
	Archive  coordinateDTO  `json:"archive"`
	Public   *coordinateDTO `json:"public,omitempty"`
	Password string         `json:"password"`
}

type coordinateDTO struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

func (c coordinateDTO) toCoordinate() file.Coordinate {
	return file.Coordinate{ChatID: c.ChatID, MessageID: c.MessageID}
}

func fromCoordinate(c file.Coordinate) coordinateDTO {
	return coordinateDTO{ChatID: c.ChatID, MessageID: c.MessageID}
}

type fileResponse struct {
	PostNo    int64          `json:"post_no"`
	Title     string         `json:"title"`
	Extra     string         `json:"extra"`
	Archive   coordinateDTO  `json:"archive"`
	Public    *coordinateDTO `json:"public,omitempty"`
	Downloads int64          `json:"downloads"`
}

func toFileResponse(f *file.File) fileResponse {
	resp := fileResponse{
		PostNo:    f.PostNo,
		Title:     f.Title,
		Extra:     f.Extra,
		Archive:   fromCoordinate(f.Archive),
		Downloads: f.Downloads,
	}
	if f.Public != nil {
		pub := fromCoordinate(*f.Public)
		resp.Public = &pub
	}
	return resp
}

// Create handles POST /api/v1/files. It registers a new File Record after confirming the archive coordinate
// actually resolves, so a mistyped (chat_id, message_id) pair fails here instead of on the first real download.
func (h *fileHandler) Create(c fiber.Ctx) error {
	var body createFileRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "invalid request body")
	}
	if body.PostNo <= 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "post_no must be a positive integer")
	}

	archiveCoord := body.Archive.toCoordinate()
	if h.privateStoreID != 0 && archiveCoord.ChatID != h.privateStoreID {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "archive.chat_id must be the configured private storage channel")
	}
	if err := h.probe.Verify(c, archiveCoord); err != nil {
		h.log.Warn().Err(err).Int64("post_no", body.PostNo).Msg("archive coordinate failed upload-time validation")
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "archive coordinate does not resolve to an accessible message")
	}

	var publicCoord *file.Coordinate
	if body.Public != nil {
		if h.publicGroupID != 0 && body.Public.ChatID != h.publicGroupID {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "public.chat_id must be the configured public group channel")
		}
		coord := body.Public.toCoordinate()
		publicCoord = &coord
	}

	f, err := h.files.Create(c, file.CreateParams{
		PostNo:   body.PostNo,
		Title:    body.Title,
		Extra:    body.Extra,
		Archive:  archiveCoord,
		Public:   publicCoord,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, file.ErrPostNoExists) {
			return httputil.Fail(c, fiber.StatusConflict, apierrors.KindConflict, "post_no already in use")
		}
		h.log.Error().Err(err).Int64("post_no", body.PostNo).Msg("failed to create file record")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to create file record")
	}

	h.record(c, oplog.ActionFileCreated, f.PostNo)
	return httputil.SuccessStatus(c, fiber.StatusCreated, toFileResponse(f))
}

// Get handles GET /api/v1/files/:postNo.
func (h *fileHandler) Get(c fiber.Ctx) error {
	postNo, err := c.ParamsInt("postNo")
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "postNo must be an integer")
	}

	f, getErr := h.files.GetByPostNo(c, int64(postNo))
	if getErr != nil {
		if errors.Is(getErr, file.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.KindNotFound, "file not found")
		}
		h.log.Error().Err(getErr).Int64("post_no", int64(postNo)).Msg("failed to fetch file record")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to fetch file record")
	}
	return httputil.Success(c, toFileResponse(f))
}

// Delete handles DELETE /api/v1/files/:postNo.
func (h *fileHandler) Delete(c fiber.Ctx) error {
	postNo, err := c.ParamsInt("postNo")
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.KindFatal, "postNo must be an integer")
	}

	if delErr := h.files.Delete(c, int64(postNo)); delErr != nil {
		if errors.Is(delErr, file.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.KindNotFound, "file not found")
		}
		h.log.Error().Err(delErr).Int64("post_no", int64(postNo)).Msg("failed to delete file record")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.KindFatal, "failed to delete file record")
	}

	h.record(c, oplog.ActionFileDeleted, int64(postNo))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *fileHandler) record(c fiber.Ctx, action string, postNo int64) {
	if err := h.oplog.Record(c, nil, action, "post_no="+itoa64(postNo)); err != nil {
		h.log.Warn().Err(err).Str("action", action).Msg("failed to append operator-actions entry")
	}
}
