// Package engine implements the Entitlement Engine (C5): the per-request download decision pipeline composing the
// membership gate, verification gate, quota gate, delivery, and scheduled-deletion enrollment into one deterministic
// outcome per (user, post) request.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/channelcfg"
	"github.com/tollgate-bot/tollgate/internal/entitlement"
	"github.com/tollgate-bot/tollgate/internal/file"
	"github.com/tollgate-bot/tollgate/internal/membership"
	"github.com/tollgate-bot/tollgate/internal/oplog"
	"github.com/tollgate-bot/tollgate/internal/retry"
	"github.com/tollgate-bot/tollgate/internal/setting"
)

// OutcomeKind classifies the terminal screen a download request resolves to.
type OutcomeKind string

const (
	OutcomeFileNotFound         OutcomeKind = "FILE_NOT_FOUND"
	OutcomeSubscribeRequired    OutcomeKind = "SUBSCRIBE_REQUIRED"
	OutcomeVerificationRequired OutcomeKind = "VERIFICATION_REQUIRED"
	OutcomeQuotaExhausted       OutcomeKind = "QUOTA_EXHAUSTED"
	OutcomeDelivered            OutcomeKind = "DELIVERED"
)

// Outcome is the single decision an engine call produces; exactly the fields relevant to Kind are populated.
type Outcome struct {
	Kind            OutcomeKind
	File            *file.File
	MissingChannels []channelcfg.Entry
	Delivered       file.Coordinate
	WasReAccess     bool
}

// Gateway is the subset of the chat gateway (X1) the engine consumes: copying the archived item into the
// requester's chat and sending the companion self-destruct warning. Everything else X1 offers (CTA rendering,
// message deletion) belongs to the caller and the scheduled-deletion worker respectively.
type Gateway interface {
	DeliverArchive(ctx context.Context, archive file.Coordinate, destChatID int64, caption string) (file.Coordinate, error)
	SendDeletionWarning(ctx context.Context, destChatID, postNo int64, deleteAt time.Time) (file.Coordinate, error)
}

// DeletionJob is the payload enrolled with a DeletionScheduler for one delivery.
type DeletionJob struct {
	UserID     int64
	PostNo     int64
	Delivered  file.Coordinate
	Warning    *file.Coordinate
	DestChatID int64
	FireAt     time.Time
}

// DeletionScheduler enrolls a deferred delete-and-reoffer task for a successful delivery.
type DeletionScheduler interface {
	Enroll(ctx context.Context, job DeletionJob) error
}

// Engine wires the state-store repositories and external collaborators behind RequestDownload and
// CompleteVerification.
type Engine struct {
	Entitlements entitlement.Repository
	Files        file.Repository
	Channels     channelcfg.Repository
	Settings     setting.Repository
	Membership   *membership.Checker
	Gateway      Gateway
	Deletions    DeletionScheduler
	Log          oplog.Logger

	now func() time.Time
	log zerolog.Logger
}

// New builds an Engine. now defaults to time.Now when nil.
func New(
	entitlements entitlement.Repository,
	files file.Repository,
	channels channelcfg.Repository,
	settings setting.Repository,
	checker *membership.Checker,
	gateway Gateway,
	deletions DeletionScheduler,
	oplogger oplog.Logger,
	now func() time.Time,
	logger zerolog.Logger,
) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		Entitlements: entitlements,
		Files:        files,
		Channels:     channels,
		Settings:     settings,
		Membership:   checker,
		Gateway:      gateway,
		Deletions:    deletions,
		Log:          oplogger,
		now:          now,
		log:          logger,
	}
}

// RequestDownload runs the full step 1-7 pipeline from spec.md §4.5 for one (userID, postNo) request.
func (e *Engine) RequestDownload(ctx context.Context, userID, postNo int64) (*Outcome, error) {
	f, err := e.Files.GetByPostNo(ctx, postNo)
	if err != nil {
		if err == file.ErrNotFound {
			return &Outcome{Kind: OutcomeFileNotFound}, nil
		}
		return nil, apierrors.Wrap(apierrors.KindTransient, "resolve file", err)
	}

	ent, err := e.Entitlements.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, "ensure user entitlement", err)
	}

	channels, err := e.Channels.ListActive(ctx)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, "list active channels", err)
	}
	missing, err := e.Membership.Unsubscribed(ctx, userID, channels)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, "check channel membership", err)
	}
	if len(missing) > 0 {
		return &Outcome{Kind: OutcomeSubscribeRequired, File: f, MissingChannels: missing}, nil
	}

	now := e.now()
	if !ent.IsCurrentlyVerified(now) {
		return &Outcome{Kind: OutcomeVerificationRequired, File: f}, nil
	}

	isReAccess := ent.HasSeen(postNo)
	if !isReAccess {
		limit := e.intSetting(ctx, setting.KeyFileAccessLimit, 3)
		if ent.FilesConsumed >= limit {
			return &Outcome{Kind: OutcomeQuotaExhausted, File: f}, nil
		}
	}

	caption := e.strSetting(ctx, setting.KeyFilePassword, "")
	var delivered file.Coordinate
	err = retry.Do(ctx, func(ctx context.Context) error {
		coord, dErr := e.Gateway.DeliverArchive(ctx, f.Archive, userID, caption)
		if dErr != nil {
			return dErr
		}
		delivered = coord
		return nil
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, "deliver archive", err)
	}

	if err := e.recordDeliveryWithCompensation(ctx, userID, postNo); err != nil {
		e.record(ctx, nil, oplog.ActionDeliveryInconsistent, userID, postNo)
	}
	if err := e.Files.IncrementDownloads(ctx, postNo); err != nil {
		e.log.Warn().Err(err).Int64("post_no", postNo).Msg("failed to increment download counter")
	}

	e.record(ctx, nil, oplog.ActionFileDelivered, userID, postNo)

	autoDeleteTTL := e.durationSetting(ctx, setting.KeyAutoDeleteSeconds, 600*time.Second)
	fireAt := now.Add(autoDeleteTTL)

	var warning *file.Coordinate
	if w, wErr := e.Gateway.SendDeletionWarning(ctx, userID, postNo, fireAt); wErr != nil {
		e.log.Warn().Err(wErr).Int64("post_no", postNo).Msg("failed to send deletion warning message")
	} else {
		warning = &w
	}

	if schedErr := e.Deletions.Enroll(ctx, DeletionJob{
		UserID:     userID,
		PostNo:     postNo,
		Delivered:  delivered,
		Warning:    warning,
		DestChatID: userID,
		FireAt:     fireAt,
	}); schedErr != nil {
		e.log.Warn().Err(schedErr).Int64("post_no", postNo).Int64("user_id", userID).Msg("failed to enroll scheduled deletion")
	}

	return &Outcome{Kind: OutcomeDelivered, File: f, Delivered: delivered, WasReAccess: isReAccess}, nil
}

// recordDeliveryWithCompensation commits the files_seen/files_consumed update after a successful send. Per
// spec.md §4.5.3, a failure here is retried once as a compensating attempt; if that also fails the event is logged
// as DELIVERY_INCONSISTENT but the caller proceeds (the file already reached the user).
func (e *Engine) recordDeliveryWithCompensation(ctx context.Context, userID, postNo int64) error {
	_, err := e.Entitlements.RecordDelivery(ctx, userID, postNo)
	if err == nil {
		return nil
	}
	_, err = e.Entitlements.RecordDelivery(ctx, userID, postNo)
	return err
}

// CompleteVerification applies the verification-reset effects of a successful C3.validate: marks the user verified,
// refreshes expires_at, and zeroes the quota window (spec.md §4.5.2).
func (e *Engine) CompleteVerification(ctx context.Context, userID int64) error {
	periodHours := e.intSetting(ctx, setting.KeyVerificationPeriodHours, 24)
	now := e.now()
	expiresAt := now.Add(time.Duration(periodHours) * time.Hour)

	if err := e.Entitlements.ResetVerification(ctx, userID, now, expiresAt); err != nil {
		return apierrors.Wrap(apierrors.KindTransient, "reset verification", err)
	}
	e.record(ctx, nil, oplog.ActionTokenValidated, userID, 0)
	return nil
}

func (e *Engine) record(ctx context.Context, actorID *int64, action string, userID, postNo int64) {
	detail := "user_id=" + strconv.FormatInt(userID, 10)
	if postNo > 0 {
		detail += " post_no=" + strconv.FormatInt(postNo, 10)
	}
	if err := e.Log.Record(ctx, actorID, action, detail); err != nil {
		e.log.Warn().Err(err).Str("action", action).Msg("failed to append operator-actions entry")
	}
}

func (e *Engine) strSetting(ctx context.Context, key, fallback string) string {
	v, ok, err := e.Settings.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	return v
}

func (e *Engine) intSetting(ctx context.Context, key string, fallback int) int {
	v, ok, err := e.Settings.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (e *Engine) durationSetting(ctx context.Context, key string, fallback time.Duration) time.Duration {
	secs := e.intSetting(ctx, key, int(fallback/time.Second))
	return time.Duration(secs) * time.Second
}
