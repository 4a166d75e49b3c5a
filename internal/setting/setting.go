// Package setting implements the Setting record of the state store: free-form operator-configurable key/value pairs
// (file password, verification period, quota limit, shortlink credentials, tutorial link).
package setting

import "context"

// Well-known setting keys (spec.md §6 "Configuration").
const (
	KeyFilePassword             = "file_password"
	KeyVerificationPeriodHours  = "verification_period_hours"
	KeyFileAccessLimit          = "file_access_limit"
	KeyShortlinkAPIKey          = "shortlink_api_key"
	KeyShortlinkBaseURL         = "shortlink_base_url"
	KeyHowToVerifyLink          = "how_to_verify_link"
	KeyVerificationTokenTTLSecs = "verification_token_ttl_seconds"
	KeyAutoDeleteSeconds        = "auto_delete_seconds"
	KeyMinTraversalSeconds      = "min_traversal_seconds"
	KeyMinDwellSeconds          = "min_dwell_seconds"
)

// Repository defines the data-access contract for settings: a flat, string-valued key/value store. Numerical keys are
// parsed by callers; the store itself treats every value as opaque text.
type Repository interface {
	// Get returns the value for key, and whether it was present.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// GetAll returns every stored key/value pair.
	GetAll(ctx context.Context) (map[string]string, error)

	// Set upserts key to value.
	Set(ctx context.Context, key, value string) error

	// SetDefaults inserts each key in defaults only if it does not already exist, used to seed first-run values
	// without clobbering operator edits on restart.
	SetDefaults(ctx context.Context, defaults map[string]string) error
}
