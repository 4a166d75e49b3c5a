// Package archive implements the Archive Store (X3) contract: an opaque blob host addressed by an
// (channel id, message id) pair returned at upload time. The sole operation the entitlement pipeline consumes is
// "copy this stored item to a user's chat with caption"; tollgate's concrete Store is the Telegram private storage
// chat, reusing internal/gateway's copy-message capability rather than a second wire client.
package archive

import (
	"context"
	"fmt"

	"github.com/tollgate-bot/tollgate/internal/file"
)

// Store is the X3 contract consumed by the entitlement pipeline.
type Store interface {
	CopyToChat(ctx context.Context, coord file.Coordinate, destChatID int64, caption string) (file.Coordinate, error)
}

// Deleter removes a message the Store previously produced; used only by Probe to clean up after itself.
type Deleter interface {
	DeleteMessage(ctx context.Context, coord file.Coordinate) error
}

// Probe validates that a freshly-registered archive coordinate actually resolves, by copying it into a sink chat
// and immediately deleting the copy. cmd/tollgate-admin runs this when an operator registers a File Record, so a
// mistyped (chat_id, message_id) pair fails at upload time instead of on the first real download.
type Probe struct {
	store      Store
	deleter    Deleter
	sinkChatID int64
}

// NewProbe builds a Probe. sinkChatID is a chat the bot can freely post throwaway copies into and delete again
// (typically the admin bot's own operator log chat).
func NewProbe(store Store, deleter Deleter, sinkChatID int64) *Probe {
	return &Probe{store: store, deleter: deleter, sinkChatID: sinkChatID}
}

// Verify confirms coord addresses a real, currently-accessible message.
func (p *Probe) Verify(ctx context.Context, coord file.Coordinate) error {
	copied, err := p.store.CopyToChat(ctx, coord, p.sinkChatID, "")
	if err != nil {
		return fmt.Errorf("archive: coordinate %+v does not resolve: %w", coord, err)
	}
	if err := p.deleter.DeleteMessage(ctx, copied); err != nil {
		return fmt.Errorf("archive: coordinate %+v resolved but probe cleanup failed: %w", coord, err)
	}
	return nil
}
