package deletion

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/engine"
	"github.com/tollgate-bot/tollgate/internal/file"
)

type deleteCall struct {
	coord file.Coordinate
}

type fakeGateway struct {
	mu       sync.Mutex
	deleted  []deleteCall
	reaccess []int64
}

func (g *fakeGateway) DeleteMessage(_ context.Context, coord file.Coordinate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, deleteCall{coord: coord})
	return nil
}

func (g *fakeGateway) SendReaccessMessage(_ context.Context, _, postNo int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reaccess = append(g.reaccess, postNo)
	return nil
}

func (g *fakeGateway) deletedCoords() []file.Coordinate {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]file.Coordinate, len(g.deleted))
	for i, c := range g.deleted {
		out[i] = c.coord
	}
	return out
}

func (g *fakeGateway) reaccessCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reaccess)
}

func newTestWorker(t *testing.T, gw Gateway) (*Worker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	w := NewWorker(rdb, gw, zerolog.Nop())
	w.EnsureStream(context.Background())
	return w, rdb
}

func TestEnrollAppendsJobToStream(t *testing.T) {
	w, rdb := newTestWorker(t, &fakeGateway{})
	ctx := context.Background()

	fireAt := time.Now().Add(time.Hour)
	err := w.Enroll(ctx, engine.DeletionJob{
		UserID:     1,
		PostNo:     7,
		Delivered:  file.Coordinate{ChatID: 1, MessageID: 100},
		DestChatID: 1,
		FireAt:     fireAt,
	})
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}

	msgs, err := rdb.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}

	var decoded job
	if err := json.Unmarshal([]byte(msgs[0].Values["job"].(string)), &decoded); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if decoded.PostNo != 7 || decoded.DeliveredMsg != 100 {
		t.Errorf("decoded job = %+v, want post_no=7 delivered_msg_id=100", decoded)
	}
	if decoded.HasWarning {
		t.Errorf("decoded.HasWarning = true, want false (no warning coordinate enrolled)")
	}
}

func TestEnrollCarriesWarningCoordinate(t *testing.T) {
	w, _ := newTestWorker(t, &fakeGateway{})
	warning := file.Coordinate{ChatID: 1, MessageID: 101}
	err := w.Enroll(context.Background(), engine.DeletionJob{
		UserID:     1,
		PostNo:     7,
		Delivered:  file.Coordinate{ChatID: 1, MessageID: 100},
		Warning:    &warning,
		DestChatID: 1,
		FireAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}
}

func TestFireDeletesBothMessagesAndSendsReaccess(t *testing.T) {
	gw := &fakeGateway{}
	w, _ := newTestWorker(t, gw)

	j := job{
		PostNo:        7,
		DeliveredChat: 1,
		DeliveredMsg:  100,
		HasWarning:    true,
		WarningChat:   1,
		WarningMsg:    101,
		DestChatID:    1,
	}
	if err := w.fire(context.Background(), j); err != nil {
		t.Fatalf("fire() error: %v", err)
	}

	coords := gw.deletedCoords()
	if len(coords) != 2 {
		t.Fatalf("deleted %d messages, want 2", len(coords))
	}
	if coords[0].MessageID != 100 || coords[1].MessageID != 101 {
		t.Errorf("deleted coords = %+v, want delivered then warning", coords)
	}
	if gw.reaccessCount() != 1 {
		t.Errorf("reaccess sent %d times, want 1", gw.reaccessCount())
	}
}

func TestFireWithoutWarningOnlyDeletesDelivered(t *testing.T) {
	gw := &fakeGateway{}
	w, _ := newTestWorker(t, gw)

	j := job{PostNo: 7, DeliveredChat: 1, DeliveredMsg: 100, HasWarning: false, DestChatID: 1}
	if err := w.fire(context.Background(), j); err != nil {
		t.Fatalf("fire() error: %v", err)
	}
	if len(gw.deletedCoords()) != 1 {
		t.Fatalf("deleted %d messages, want 1", len(gw.deletedCoords()))
	}
}

func TestProcessJobHeartbeatKeepsSleepingJobFromBeingStolen(t *testing.T) {
	gw := &fakeGateway{}
	w, rdb := newTestWorker(t, gw)
	w.reclaimMinIdle = 50 * time.Millisecond

	ctx := context.Background()
	err := w.Enroll(ctx, engine.DeletionJob{
		UserID:     1,
		PostNo:     7,
		Delivered:  file.Coordinate{ChatID: 1, MessageID: 100},
		DestChatID: 1,
		FireAt:     time.Now().Add(400 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}

	streams, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: "primary",
		Streams:  []string{stream, ">"},
		Count:    1,
	}).Result()
	if err != nil || len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("XReadGroup() = %+v, err = %v", streams, err)
	}
	msg := streams[0].Messages[0]

	done := make(chan struct{})
	go func() {
		w.processJob(ctx, "primary", msg)
		close(done)
	}()

	// The job's fire time is still ~200ms away, well past reclaimMinIdle. A second worker's reclaimStale must find
	// nothing to steal: the heartbeat inside the first worker's sleep keeps the PEL entry's idle time below
	// reclaimMinIdle the whole time it is legitimately still waiting.
	time.Sleep(200 * time.Millisecond)
	w.reclaimStale(ctx, "second")

	<-done

	if n := gw.reaccessCount(); n != 1 {
		t.Fatalf("reaccess sent %d times, want 1 (duplicate fire means the sleeping job was stolen)", n)
	}
	if coords := gw.deletedCoords(); len(coords) != 1 {
		t.Fatalf("deleted %d messages, want 1 (duplicate fire means the sleeping job was stolen)", len(coords))
	}
}

func TestRunFiresAlreadyDueJob(t *testing.T) {
	gw := &fakeGateway{}
	w, _ := newTestWorker(t, gw)

	err := w.Enroll(context.Background(), engine.DeletionJob{
		UserID:     1,
		PostNo:     42,
		Delivered:  file.Coordinate{ChatID: 1, MessageID: 200},
		DestChatID: 1,
		FireAt:     time.Now().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if gw.reaccessCount() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if gw.reaccessCount() != 1 {
		t.Fatalf("reaccess sent %d times, want 1", gw.reaccessCount())
	}
	coords := gw.deletedCoords()
	if len(coords) != 1 || coords[0].MessageID != 200 {
		t.Errorf("deleted coords = %+v, want [{1 200}]", coords)
	}
}
