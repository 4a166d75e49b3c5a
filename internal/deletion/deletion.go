// Package deletion implements the scheduled-deletion mechanism of the Entitlement Engine (C5 step 7): each delivery
// enrolls a task that, auto_delete_ttl seconds later, deletes the delivered file message and its companion warning
// message, then sends a re-access message carrying a deep link back into step 1 of the download pipeline.
package deletion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/engine"
	"github.com/tollgate-bot/tollgate/internal/file"
)

const (
	stream        = "tollgate.jobs.deletions"
	consumerGroup = "tollgate-deletion-workers"

	maxDeliveryAttempts = 3
)

// DefaultReclaimMinIdle is how long a claimed job must sit unacknowledged before another worker may take it over.
// A job sleeping toward its fire time heartbeats its own PEL entry at DefaultReclaimMinIdle/2 (see
// sleepWithHeartbeat), so this threshold is only ever crossed by a worker that crashed mid-job.
const DefaultReclaimMinIdle = 2 * time.Minute

// job is the wire representation of an engine.DeletionJob persisted on the stream; it carries the same fields
// through a JSON round trip so enrollments survive a worker restart (spec.md §5 allows, but does not require, this).
type job struct {
	UserID        int64 `json:"user_id"`
	PostNo        int64 `json:"post_no"`
	DeliveredChat int64 `json:"delivered_chat_id"`
	DeliveredMsg  int64 `json:"delivered_msg_id"`
	HasWarning    bool  `json:"has_warning"`
	WarningChat   int64 `json:"warning_chat_id"`
	WarningMsg    int64 `json:"warning_msg_id"`
	DestChatID    int64 `json:"dest_chat_id"`
	FireAtUnix    int64 `json:"fire_at_unix"`
}

func fromEngineJob(j engine.DeletionJob) job {
	out := job{
		UserID:        j.UserID,
		PostNo:        j.PostNo,
		DeliveredChat: j.Delivered.ChatID,
		DeliveredMsg:  j.Delivered.MessageID,
		DestChatID:    j.DestChatID,
		FireAtUnix:    j.FireAt.Unix(),
	}
	if j.Warning != nil {
		out.HasWarning = true
		out.WarningChat = j.Warning.ChatID
		out.WarningMsg = j.Warning.MessageID
	}
	return out
}

// Gateway is the subset of the chat gateway (X1) the deletion worker consumes.
type Gateway interface {
	DeleteMessage(ctx context.Context, coord file.Coordinate) error
	SendReaccessMessage(ctx context.Context, destChatID, postNo int64) error
}

// Worker processes enrolled deletion jobs from a Valkey stream.
type Worker struct {
	rdb            *redis.Client
	gateway        Gateway
	log            zerolog.Logger
	reclaimMinIdle time.Duration
}

// NewWorker builds a Worker with the default reclaim threshold.
func NewWorker(rdb *redis.Client, gateway Gateway, logger zerolog.Logger) *Worker {
	return &Worker{rdb: rdb, gateway: gateway, log: logger, reclaimMinIdle: DefaultReclaimMinIdle}
}

// EnsureStream creates the consumer group for the deletion stream, ignoring the error if it already exists.
func (w *Worker) EnsureStream(ctx context.Context) {
	err := w.rdb.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		w.log.Warn().Err(err).Msg("failed to create deletion consumer group")
	}
}

// Enroll implements engine.DeletionScheduler by appending the job to the stream.
func (w *Worker) Enroll(ctx context.Context, j engine.DeletionJob) error {
	data, err := json.Marshal(fromEngineJob(j))
	if err != nil {
		return fmt.Errorf("marshal deletion job: %w", err)
	}
	return w.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"job": string(data)},
	}).Err()
}

// Run reads enrolled jobs until ctx is cancelled. Each job is handled in its own goroutine that sleeps until its
// fire time, then deletes the delivered message pair and sends the re-access offer, so a long-delayed job never
// blocks the reader from picking up the next one.
func (w *Worker) Run(ctx context.Context) error {
	consumerName := "deletion-worker-" + uuid.New().String()[:8]

	for {
		w.reclaimStale(ctx, consumerName)

		streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerName,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				go w.processJob(ctx, consumerName, msg)
			}
		}
	}
}

func (w *Worker) processJob(ctx context.Context, consumerName string, msg redis.XMessage) {
	raw, ok := msg.Values["job"]
	if !ok {
		w.log.Warn().Str("message_id", msg.ID).Msg("deletion job missing 'job' field")
		w.ack(ctx, msg.ID)
		return
	}

	var j job
	if err := json.Unmarshal([]byte(raw.(string)), &j); err != nil {
		w.log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to unmarshal deletion job")
		w.ack(ctx, msg.ID)
		return
	}

	if remaining := time.Until(time.Unix(j.FireAtUnix, 0)); remaining > 0 {
		if !w.sleepWithHeartbeat(ctx, consumerName, msg.ID, remaining) {
			return
		}
	}

	if err := w.fire(ctx, j); err != nil {
		if w.deliveryCount(ctx, msg.ID) >= maxDeliveryAttempts {
			w.log.Warn().Err(err).Int64("post_no", j.PostNo).Msg("deletion job failed permanently, discarding")
			w.ack(ctx, msg.ID)
			return
		}
		w.log.Warn().Err(err).Int64("post_no", j.PostNo).Msg("deletion job failed, will retry")
		return
	}
	w.ack(ctx, msg.ID)
}

func (w *Worker) fire(ctx context.Context, j job) error {
	if err := w.gateway.DeleteMessage(ctx, file.Coordinate{ChatID: j.DeliveredChat, MessageID: j.DeliveredMsg}); err != nil {
		return fmt.Errorf("delete delivered message: %w", err)
	}
	if j.HasWarning {
		if err := w.gateway.DeleteMessage(ctx, file.Coordinate{ChatID: j.WarningChat, MessageID: j.WarningMsg}); err != nil {
			w.log.Warn().Err(err).Int64("post_no", j.PostNo).Msg("failed to delete warning message")
		}
	}
	if err := w.gateway.SendReaccessMessage(ctx, j.DestChatID, j.PostNo); err != nil {
		return fmt.Errorf("send re-access message: %w", err)
	}
	return nil
}

func (w *Worker) reclaimStale(ctx context.Context, consumerName string) {
	msgs, _, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    consumerGroup,
		Consumer: consumerName,
		MinIdle:  w.reclaimMinIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("failed to reclaim stale deletion jobs")
		}
		return
	}
	for _, msg := range msgs {
		go w.processJob(ctx, consumerName, msg)
	}
}

// sleepWithHeartbeat blocks until remaining has elapsed or ctx is cancelled, re-claiming the job's own PEL entry
// every reclaimMinIdle/2 so its idle time never crosses reclaimMinIdle while it is legitimately still sleeping.
// Without this, reclaimStale's XAutoClaim would hand a long-delayed job to a second worker partway through its
// wait, and both workers would independently call fire for the same delivery. Returns false if ctx was cancelled
// before remaining elapsed.
func (w *Worker) sleepWithHeartbeat(ctx context.Context, consumerName, messageID string, remaining time.Duration) bool {
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	ticker := time.NewTicker(w.reclaimMinIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-ticker.C:
			w.heartbeat(ctx, consumerName, messageID)
		}
	}
}

// heartbeat re-claims messageID for consumerName, resetting its idle time as observed by XAutoClaim.
func (w *Worker) heartbeat(ctx context.Context, consumerName, messageID string) {
	if _, err := w.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    consumerGroup,
		Consumer: consumerName,
		MinIdle:  0,
		Messages: []string{messageID},
	}).Result(); err != nil {
		w.log.Warn().Err(err).Str("message_id", messageID).Msg("failed to heartbeat sleeping deletion job")
	}
}

func (w *Worker) deliveryCount(ctx context.Context, messageID string) int64 {
	pending, err := w.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  consumerGroup,
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return maxDeliveryAttempts
	}
	return pending[0].RetryCount
}

func (w *Worker) ack(ctx context.Context, messageID string) {
	if err := w.rdb.XAck(ctx, stream, consumerGroup, messageID).Err(); err != nil {
		w.log.Warn().Err(err).Str("message_id", messageID).Msg("failed to ack deletion job")
	}
}
