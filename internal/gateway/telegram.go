package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/channelcfg"
	"github.com/tollgate-bot/tollgate/internal/deeplink"
	"github.com/tollgate-bot/tollgate/internal/file"
	"github.com/tollgate-bot/tollgate/internal/membership"
)

// Bot is the concrete X1 Chat Gateway adapter: it implements membership.Gateway, engine.Gateway, and the deletion
// worker's Gateway against the real Telegram Bot API, via a single long-lived *tgbotapi.BotAPI.
type Bot struct {
	api      *tgbotapi.BotAPI
	username string
	log      zerolog.Logger
}

// NewBot authenticates against the Telegram Bot API and returns a ready Bot.
func NewBot(token string, logger zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate bot: %w", err)
	}
	return &Bot{api: api, username: api.Self.UserName, log: logger}, nil
}

// Username returns the bot's own @handle, used to build return deep links.
func (b *Bot) Username() string {
	return b.username
}

// Updates starts the long-poll update stream. Callers range over the returned channel until ctx is cancelled.
func (b *Bot) Updates(ctx context.Context) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	return b.api.GetUpdatesChan(u)
}

// StopReceivingUpdates releases the long-poll goroutine; call before reconnecting.
func (b *Bot) StopReceivingUpdates() {
	b.api.StopReceivingUpdates()
}

// GetChatMember implements membership.Gateway: it queries the live chat-member status of userID in the channel
// identified by its public @handle.
func (b *Bot) GetChatMember(_ context.Context, channelHandle string, userID int64) (membership.Status, error) {
	cfg := tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: normalizeHandle(channelHandle),
			UserID:             userID,
		},
	}
	member, err := b.api.GetChatMember(cfg)
	if err != nil {
		if isNotInChatError(err) {
			return membership.StatusLeft, nil
		}
		return membership.StatusUnknown, apierrors.Wrap(apierrors.KindTransient, "get chat member", err)
	}
	return membership.Status(member.Status), nil
}

// CopyToChat implements the Archive Store (X3) contract: copy a stored message into destChatID, optionally
// overriding its caption.
func (b *Bot) CopyToChat(_ context.Context, coord file.Coordinate, destChatID int64, caption string) (file.Coordinate, error) {
	copyMsg := tgbotapi.NewCopyMessage(destChatID, coord.ChatID, int(coord.MessageID))
	if caption != "" {
		copyMsg.Caption = caption
	}
	sent, err := b.api.CopyMessage(copyMsg)
	if err != nil {
		return file.Coordinate{}, apierrors.Wrap(apierrors.KindTransient, "copy archive message", err)
	}
	return file.Coordinate{ChatID: destChatID, MessageID: int64(sent.MessageID)}, nil
}

// DeliverArchive implements engine.Gateway by delegating to CopyToChat, optionally overriding the caption with the
// current file_password setting.
func (b *Bot) DeliverArchive(ctx context.Context, archive file.Coordinate, destChatID int64, caption string) (file.Coordinate, error) {
	return b.CopyToChat(ctx, archive, destChatID, caption)
}

// SendDeletionWarning implements engine.Gateway: it posts the companion message telling the requester when the
// delivered item will self-destruct.
func (b *Bot) SendDeletionWarning(_ context.Context, destChatID, _ int64, deleteAt time.Time) (file.Coordinate, error) {
	text := fmt.Sprintf("This file will be removed at %s. Re-download it afterwards with the same link.",
		deleteAt.UTC().Format("15:04 MST"))
	msg := tgbotapi.NewMessage(destChatID, text)
	sent, err := b.api.Send(msg)
	if err != nil {
		return file.Coordinate{}, apierrors.Wrap(apierrors.KindTransient, "send deletion warning", err)
	}
	return file.Coordinate{ChatID: destChatID, MessageID: int64(sent.MessageID)}, nil
}

// DeleteMessage implements the deletion worker's Gateway: it removes a previously sent or copied message.
func (b *Bot) DeleteMessage(_ context.Context, coord file.Coordinate) error {
	del := tgbotapi.NewDeleteMessage(coord.ChatID, int(coord.MessageID))
	if _, err := b.api.Request(del); err != nil {
		if isMessageAlreadyGoneError(err) {
			return nil
		}
		return apierrors.Wrap(apierrors.KindTransient, "delete message", err)
	}
	return nil
}

// SendReaccessMessage implements the deletion worker's Gateway: after the delivered item is removed, it offers a
// fresh deep link back into RequestDownload for the same post.
func (b *Bot) SendReaccessMessage(_ context.Context, destChatID, postNo int64) error {
	link := "https://t.me/" + b.username + "?start=" + deeplink.EncodeGet(postNo)
	text := "That file was automatically removed. Tap below to get it again:\n" + link
	msg := tgbotapi.NewMessage(destChatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return apierrors.Wrap(apierrors.KindTransient, "send re-access message", err)
	}
	return nil
}

// SendText sends a plain text message, used by the bot's command handlers for their plain-text replies (the
// verification-required screen goes through SendVerifyGate instead), and by the broadcast fan-out.
func (b *Bot) SendText(_ context.Context, destChatID int64, text string) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(destChatID, text)); err != nil {
		if isBlockedByUserError(err) {
			return apierrors.Wrap(apierrors.KindGatewayBlocked, "send message", err)
		}
		return apierrors.Wrap(apierrors.KindTransient, "send message", err)
	}
	return nil
}

// SendSubscribeGate renders the force-subscription screen: the CTA buttons for each channel the user still needs to
// join, in configured display order, per spec.md §6, plus a retry button that re-encodes the same get-<post_no>
// deep link so tapping it re-enters step 1 for the same post once the user has joined.
func (b *Bot) SendSubscribeGate(_ context.Context, destChatID, postNo int64, missing []channelcfg.Entry) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(missing)+1)
	for _, ch := range missing {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(ch.CTALabel, ch.PublicLink),
		))
	}
	retryLink := "https://t.me/" + b.username + "?start=" + deeplink.EncodeGet(postNo)
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL("I've joined, try again", retryLink),
	))

	msg := tgbotapi.NewMessage(destChatID, "Join the channels below, then tap \"I've joined, try again\".")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		return apierrors.Wrap(apierrors.KindTransient, "send subscribe gate", err)
	}
	return nil
}

// SendVerifyGate sends the verification-required screen carrying the /r landing link the caller minted for this
// request, plus an optional second button to an operator-configured verification tutorial.
func (b *Bot) SendVerifyGate(_ context.Context, destChatID int64, verifyURL, howToVerifyLink string) error {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Verify", verifyURL)),
	}
	if howToVerifyLink != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("How to verify", howToVerifyLink),
		))
	}

	msg := tgbotapi.NewMessage(destChatID, "Please verify to continue.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		return apierrors.Wrap(apierrors.KindTransient, "send verify gate", err)
	}
	return nil
}

func normalizeHandle(handle string) string {
	if strings.HasPrefix(handle, "@") {
		return handle
	}
	return "@" + handle
}

func isNotInChatError(err error) bool {
	return strings.Contains(err.Error(), "user not found") || strings.Contains(err.Error(), "PARTICIPANT_ID_INVALID")
}

func isMessageAlreadyGoneError(err error) bool {
	return strings.Contains(err.Error(), "message to delete not found") || strings.Contains(err.Error(), "message can't be deleted")
}

func isBlockedByUserError(err error) bool {
	return strings.Contains(err.Error(), "bot was blocked by the user") || strings.Contains(err.Error(), "user is deactivated")
}
