package httputil

import (
	"github.com/gofiber/fiber/v3"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
)

// SuccessResponse wraps successful API responses.
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	Kind    apierrors.Kind `json:"kind"`
	Message string         `json:"message"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{Data: data})
}

// Fail sends a JSON error response with the given status, kind, and message.
func Fail(c fiber.Ctx, status int, kind apierrors.Kind, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorBody{
			Kind:    kind,
			Message: message,
		},
	})
}

// FailErr maps an apierrors error to the conventional status code for its Kind and sends it.
func FailErr(c fiber.Ctx, err error) error {
	var status int
	kind := apierrors.KindFatal
	message := err.Error()

	switch {
	case apierrors.Is(err, apierrors.KindNotFound):
		status, kind = 404, apierrors.KindNotFound
	case apierrors.Is(err, apierrors.KindConflict):
		status, kind = 409, apierrors.KindConflict
	case apierrors.Is(err, apierrors.KindForbidden):
		status, kind = 403, apierrors.KindForbidden
	case apierrors.Is(err, apierrors.KindTokenInvalid):
		status, kind = 410, apierrors.KindTokenInvalid
	case apierrors.Is(err, apierrors.KindTransient):
		status, kind = 503, apierrors.KindTransient
	default:
		status = 500
	}

	return Fail(c, status, kind, message)
}
