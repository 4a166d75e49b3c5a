package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/tollgate-bot/tollgate/internal/file"
)

type fakeStore struct {
	copyErr error
	copied  file.Coordinate
}

func (s *fakeStore) CopyToChat(_ context.Context, _ file.Coordinate, destChatID int64, _ string) (file.Coordinate, error) {
	if s.copyErr != nil {
		return file.Coordinate{}, s.copyErr
	}
	return file.Coordinate{ChatID: destChatID, MessageID: 999}, nil
}

type fakeDeleter struct {
	deleteErr error
	deleted   []file.Coordinate
}

func (d *fakeDeleter) DeleteMessage(_ context.Context, coord file.Coordinate) error {
	if d.deleteErr != nil {
		return d.deleteErr
	}
	d.deleted = append(d.deleted, coord)
	return nil
}

func TestProbeVerifySucceedsAndCleansUp(t *testing.T) {
	store := &fakeStore{}
	deleter := &fakeDeleter{}
	p := NewProbe(store, deleter, 555)

	if err := p.Verify(context.Background(), file.Coordinate{ChatID: 1, MessageID: 42}); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0].MessageID != 999 {
		t.Errorf("deleted = %+v, want a single cleanup of the probe copy", deleter.deleted)
	}
}

func TestProbeVerifyFailsWhenCopyFails(t *testing.T) {
	store := &fakeStore{copyErr: errors.New("chat not found")}
	deleter := &fakeDeleter{}
	p := NewProbe(store, deleter, 555)

	err := p.Verify(context.Background(), file.Coordinate{ChatID: 1, MessageID: 42})
	if err == nil {
		t.Fatal("Verify() error = nil, want non-nil when the coordinate does not resolve")
	}
	if len(deleter.deleted) != 0 {
		t.Errorf("deleted = %+v, want no cleanup attempt when copy failed", deleter.deleted)
	}
}

func TestProbeVerifyFailsWhenCleanupFails(t *testing.T) {
	store := &fakeStore{}
	deleter := &fakeDeleter{deleteErr: errors.New("message to delete not found")}
	p := NewProbe(store, deleter, 555)

	if err := p.Verify(context.Background(), file.Coordinate{ChatID: 1, MessageID: 42}); err == nil {
		t.Fatal("Verify() error = nil, want non-nil when cleanup fails")
	}
}
