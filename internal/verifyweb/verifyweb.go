// Package verifyweb implements the Verification Web Flow (C4): the HTTP surface a shortlink lands a user on, which
// advances token state and hands control back to the chat gateway after a fixed interstitial delay. It performs no
// user mutation beyond the advance CAS — COMPLETED is reserved for the chat gateway's callback into the token
// service, never for this package.
package verifyweb

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/deeplink"
	"github.com/tollgate-bot/tollgate/internal/token"
)

// errChecksumMismatch indicates a /r or /v query string was hand-edited or truncated: the link decodes to valid
// base64 but the embedded token checksum no longer matches, so it is rejected before any repository lookup.
var errChecksumMismatch = errors.New("verifyweb: token checksum mismatch")

// decodeChecked reverses the encoding cmd/tollgate-bot applies when minting a verification link: base64 transport
// decoding via internal/deeplink, then the corruption-detecting checksum from internal/token.
func decodeChecked(encoded string) (string, error) {
	withChecksum, err := deeplink.DecodeTokenID(encoded)
	if err != nil {
		return "", err
	}
	tokenID, ok := token.DecodeExternal(withChecksum)
	if !ok {
		return "", errChecksumMismatch
	}
	return tokenID, nil
}

// TokenService is the subset of the token service C4 consumes.
type TokenService interface {
	Advance(ctx context.Context, tokenID string) (*token.Token, error)
	Peek(ctx context.Context, tokenID string) (*token.Token, error)
}

const defaultPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,Helvetica,Arial,sans-serif;
background:#f4f5f7;display:flex;align-items:center;justify-content:center;min-height:100vh;padding:1rem}
.card{background:#fff;border-radius:8px;box-shadow:0 2px 8px rgba(0,0,0,.08);max-width:440px;width:100%;
padding:2.5rem 2rem;text-align:center;border-top:4px solid {{.AccentColour}}}
h1{font-size:1.25rem;color:#1a1a2e;margin-bottom:.75rem}
p{font-size:.95rem;color:#555;line-height:1.5}
</style>
{{if .RedirectURL}}<meta http-equiv="refresh" content="{{.DelaySeconds}};url={{.RedirectURL}}">{{end}}
</head>
<body>
<div class="card">
<h1>{{.Heading}}</h1>
<p>{{.Message}}</p>
</div>
{{if .RedirectURL}}
<script>
setTimeout(function(){ window.location.replace("{{.RedirectURL}}"); }, {{.DelayMillis}});
</script>
{{end}}
</body>
</html>`

var defaultPageTmpl = template.Must(template.New("verifyweb").Parse(defaultPageHTML))

type pageData struct {
	Title        string
	Heading      string
	Message      string
	AccentColour string
	RedirectURL  string
	DelaySeconds int
	DelayMillis  int
}

// Handler serves the landing (/r) and countdown (/v) pages.
type Handler struct {
	tokens      TokenService
	botUsername string
	delay       time.Duration
	tmpl        *template.Template
	log         zerolog.Logger
}

// NewHandler builds a Handler. tmpl may be nil to use the compiled-in default template. delay is the client-visible
// countdown duration before /v navigates the browser back into the chat gateway; it has no security role, see
// package doc.
func NewHandler(tokens TokenService, botUsername string, delay time.Duration, tmpl *template.Template, logger zerolog.Logger) *Handler {
	if tmpl == nil {
		tmpl = defaultPageTmpl
	}
	return &Handler{tokens: tokens, botUsername: botUsername, delay: delay, tmpl: tmpl, log: logger}
}

// Land handles GET /r?t=<encoded-token>: the shortlink landing. It advances MINTED->IN_FLIGHT and, on success (or on
// an already-advanced, still-live token), 302-redirects to the countdown page. Advance's CAS is idempotent for a
// token already IN_FLIGHT, so a repeated landing still proceeds rather than erroring.
func (h *Handler) Land(c fiber.Ctx) error {
	encoded := c.Query("t")
	if encoded == "" {
		return h.renderError(c, fiber.StatusBadRequest, "Missing Token", "No verification token was provided. Please use the link you were given.")
	}
	tokenID, err := decodeChecked(encoded)
	if err != nil {
		return h.renderError(c, fiber.StatusBadRequest, "Malformed Token", "This verification link is not well formed.")
	}

	if _, err := h.tokens.Advance(c.Context(), tokenID); err != nil {
		return h.renderTokenError(c, err)
	}

	return c.Redirect().Status(fiber.StatusFound).To("/v?t=" + encoded)
}

// Countdown handles GET /v?t=<encoded-token>: re-validates that the token is still IN_FLIGHT and not expired, then
// renders a page that after a fixed client-visible delay navigates the browser to a deep link back into the chat
// gateway carrying a verify-<token_id> signal. It performs no state transition of its own; COMPLETED is reserved for
// the chat gateway's return-path callback into the token service's Validate.
func (h *Handler) Countdown(c fiber.Ctx) error {
	encoded := c.Query("t")
	if encoded == "" {
		return h.renderError(c, fiber.StatusBadRequest, "Missing Token", "No verification token was provided. Please use the link you were given.")
	}
	tokenID, err := decodeChecked(encoded)
	if err != nil {
		return h.renderError(c, fiber.StatusBadRequest, "Malformed Token", "This verification link is not well formed.")
	}

	t, err := h.tokens.Peek(c.Context(), tokenID)
	if err != nil {
		return h.renderTokenError(c, apierrors.TokenInvalid(apierrors.TokenReasonNotFound, "token not found"))
	}
	switch t.Status {
	case token.StatusExpired:
		return h.renderTokenError(c, apierrors.TokenInvalid(apierrors.TokenReasonExpired, "token expired"))
	case token.StatusCompleted:
		return h.renderTokenError(c, apierrors.TokenInvalid(apierrors.TokenReasonReused, "token already completed"))
	case token.StatusMinted:
		return h.renderTokenError(c, apierrors.TokenInvalid(apierrors.TokenReasonBadState, "token was never advanced"))
	}

	return h.renderPage(c, fiber.StatusOK, pageData{
		Title:        "Verifying",
		Heading:      "Almost there",
		Message:      "Hold on a moment, then you'll be taken back to the chat automatically.",
		AccentColour: "#2ecc71",
		RedirectURL:  "https://t.me/" + h.botUsername + "?start=" + deeplink.EncodeVerify(tokenID),
		DelaySeconds: int(h.delay / time.Second),
		DelayMillis:  int(h.delay / time.Millisecond),
	})
}

// Health handles GET /health for load-balancer probes.
func (h *Handler) Health(c fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) renderTokenError(c fiber.Ctx, err error) error {
	switch {
	case apierrors.ReasonIs(err, apierrors.TokenReasonNotFound):
		return h.renderError(c, fiber.StatusNotFound, "Link Not Found", "This verification link does not match any pending request.")
	case apierrors.ReasonIs(err, apierrors.TokenReasonExpired):
		return h.renderError(c, fiber.StatusGone, "Link Expired", "This verification link has expired. Please request a new one from the bot.")
	case apierrors.ReasonIs(err, apierrors.TokenReasonReused), apierrors.ReasonIs(err, apierrors.TokenReasonBadState):
		return h.renderError(c, fiber.StatusGone, "Already Used", "This verification link has already been used.")
	default:
		h.log.Error().Err(err).Msg("unexpected error resolving verification token")
		return h.renderError(c, fiber.StatusInternalServerError, "Something Went Wrong", "An unexpected error occurred. Please try again later.")
	}
}

func (h *Handler) renderError(c fiber.Ctx, status int, heading, message string) error {
	return h.renderPage(c, status, pageData{
		Title:        "Verification",
		Heading:      heading,
		Message:      message,
		AccentColour: "#e74c3c",
	})
}

// renderPage executes the page template into a buffer before writing, so a template failure never produces a
// partial response.
func (h *Handler) renderPage(c fiber.Ctx, status int, data pageData) error {
	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, data); err != nil {
		h.log.Error().Err(err).Msg("failed to render verification page template")
		return c.Status(fiber.StatusInternalServerError).SendString("internal server error")
	}
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Status(status).Send(buf.Bytes())
}
