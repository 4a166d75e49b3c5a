package main

import (
	"context"

	"github.com/tollgate-bot/tollgate/internal/oplog"
)

// fakeOplog implements oplog.Logger for handler tests.
type fakeOplog struct {
	entries []oplog.Entry
}

func (l *fakeOplog) Record(_ context.Context, actorID *int64, action, detail string) error {
	l.entries = append(l.entries, oplog.Entry{ActorID: actorID, Action: action, Detail: detail})
	return nil
}

// Recent returns entries newest-first, mirroring PGLogger.Recent's ORDER BY created_at DESC.
func (l *fakeOplog) Recent(_ context.Context, limit int) ([]oplog.Entry, error) {
	if limit <= 0 {
		limit = len(l.entries)
	}
	var out []oplog.Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}
