package main

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/channelcfg"
	"github.com/tollgate-bot/tollgate/internal/config"
	"github.com/tollgate-bot/tollgate/internal/deeplink"
	"github.com/tollgate-bot/tollgate/internal/engine"
	"github.com/tollgate-bot/tollgate/internal/setting"
	"github.com/tollgate-bot/tollgate/internal/token"
)

const welcomeMessage = "Send a post link from the channel to get started."

// sender is the subset of the chat gateway the command handler renders outcomes through.
type sender interface {
	SendText(ctx context.Context, destChatID int64, text string) error
	SendSubscribeGate(ctx context.Context, destChatID, postNo int64, missing []channelcfg.Entry) error
	SendVerifyGate(ctx context.Context, destChatID int64, verifyURL, howToVerifyLink string) error
}

// shortener is the Shortlink Minter (X2) the command handler routes every verification CTA through before handing
// the result to the chat gateway, forcing the non-skippable interstitial traversal the token's dwell-floor check
// later verifies actually happened.
type shortener interface {
	Mint(ctx context.Context, destinationURL string) (string, error)
}

// settingsReader is the subset of the settings repository the command handler reads live operator configuration
// from, so an admin edit to how_to_verify_link takes effect without a restart.
type settingsReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// downloader is the subset of the entitlement engine the command handler drives.
type downloader interface {
	RequestDownload(ctx context.Context, userID, postNo int64) (*engine.Outcome, error)
	CompleteVerification(ctx context.Context, userID int64) error
}

// verifier is the subset of the token service the command handler drives.
type verifier interface {
	Mint(ctx context.Context, userID int64, ttl time.Duration) (*token.Token, error)
	Validate(ctx context.Context, tokenID string, userID int64, minTraversal, minDwell time.Duration) (*token.ValidateResult, error)
}

// commandHandler dispatches incoming /start deep links to the entitlement engine (C5) or the token service (C3),
// and renders each resulting outcome as a chat message.
type commandHandler struct {
	cfg      *config.Config
	bot      sender
	engine   downloader
	tokens   verifier
	minter   shortener
	settings settingsReader
	log      zerolog.Logger
}

func (h *commandHandler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() || msg.Command() != "start" {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID
	arg := msg.CommandArguments()

	if arg == "" {
		h.sendText(ctx, chatID, welcomeMessage)
		return
	}

	payload, err := deeplink.Decode(arg)
	if err != nil {
		h.sendText(ctx, chatID, "That link isn't valid. Please use the link you were given.")
		return
	}

	switch payload.Kind {
	case deeplink.KindGet:
		h.handleGet(ctx, userID, chatID, payload.PostNo)
	case deeplink.KindVerify:
		h.handleVerifyReturn(ctx, userID, chatID, payload.TokenID)
	}
}

func (h *commandHandler) handleGet(ctx context.Context, userID, chatID, postNo int64) {
	outcome, err := h.engine.RequestDownload(ctx, userID, postNo)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Int64("post_no", postNo).Msg("request download failed")
		h.sendText(ctx, chatID, "Something went wrong. Please try again in a moment.")
		return
	}

	switch outcome.Kind {
	case engine.OutcomeFileNotFound:
		h.sendText(ctx, chatID, "That post no longer exists.")

	case engine.OutcomeSubscribeRequired:
		if err := h.bot.SendSubscribeGate(ctx, chatID, postNo, outcome.MissingChannels); err != nil {
			h.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to send subscribe gate")
		}

	case engine.OutcomeVerificationRequired:
		h.mintAndSendVerifyGate(ctx, userID, chatID)

	case engine.OutcomeQuotaExhausted:
		h.sendText(ctx, chatID, "You've reached your download limit for this verification period.")

	case engine.OutcomeDelivered:
		// The archive copy and the self-destruct warning were already sent by the engine itself.
	}
}

func (h *commandHandler) mintAndSendVerifyGate(ctx context.Context, userID, chatID int64) {
	t, err := h.tokens.Mint(ctx, userID, h.cfg.VerificationTokenTTL)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to mint verification token")
		h.sendText(ctx, chatID, "Something went wrong. Please try again in a moment.")
		return
	}

	verifyURL := fmt.Sprintf("%s/r?t=%s", h.cfg.VerifyBaseURL, deeplink.EncodeTokenID(token.EncodeExternal(t.TokenID)))
	ctaURL := h.shorten(ctx, userID, verifyURL)
	howToLink := h.strSetting(ctx, setting.KeyHowToVerifyLink, h.cfg.HowToVerifyLink)
	if err := h.bot.SendVerifyGate(ctx, chatID, ctaURL, howToLink); err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to send verify gate")
	}
}

// shorten routes verifyURL through the shortlink provider (X2). If no minter is wired or the provider call fails,
// it falls back to the raw verification URL so a misconfigured or unreachable shortlink provider never blocks the
// CTA from being sent.
func (h *commandHandler) shorten(ctx context.Context, userID int64, verifyURL string) string {
	if h.minter == nil {
		return verifyURL
	}
	short, err := h.minter.Mint(ctx, verifyURL)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("shortlink mint failed, falling back to direct verification URL")
		return verifyURL
	}
	return short
}

// strSetting reads a live operator-configured value, falling back to the deployment default when the key is not
// yet stored or the settings reader was not wired (e.g. in unit tests exercising other paths).
func (h *commandHandler) strSetting(ctx context.Context, key, fallback string) string {
	if h.settings == nil {
		return fallback
	}
	v, ok, err := h.settings.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	return v
}

func (h *commandHandler) handleVerifyReturn(ctx context.Context, userID, chatID int64, tokenID string) {
	_, err := h.tokens.Validate(ctx, tokenID, userID, h.cfg.MinTraversalSeconds, h.cfg.MinDwellSeconds)
	if err != nil {
		h.handleValidateError(ctx, userID, chatID, err)
		return
	}

	if err := h.engine.CompleteVerification(ctx, userID); err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to complete verification")
		h.sendText(ctx, chatID, "Something went wrong finishing verification. Please try again.")
		return
	}

	h.sendText(ctx, chatID, "You're verified. Send the post link again to get your file.")
}

func (h *commandHandler) handleValidateError(ctx context.Context, userID, chatID int64, err error) {
	if apierrors.BypassSuspected(err) {
		h.log.Warn().Int64("user_id", userID).Msg("bypass suspected on verification return")
	}

	switch {
	case apierrors.ReasonIs(err, apierrors.TokenReasonExpired):
		h.sendText(ctx, chatID, "That verification link expired. Send the post link again to get a new one.")
	case apierrors.ReasonIs(err, apierrors.TokenReasonTooFast):
		h.sendText(ctx, chatID, "Please complete the verification page before returning.")
	case apierrors.ReasonIs(err, apierrors.TokenReasonReused), apierrors.ReasonIs(err, apierrors.TokenReasonBypassSuspected):
		h.sendText(ctx, chatID, "That verification link was already used. Send the post link again to get a new one.")
	default:
		h.log.Error().Err(err).Int64("user_id", userID).Msg("unexpected error validating verification return")
		h.sendText(ctx, chatID, "Something went wrong. Please try again.")
	}
}

func (h *commandHandler) sendText(ctx context.Context, chatID int64, text string) {
	if err := h.bot.SendText(ctx, chatID, text); err != nil {
		h.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}
