package entitlement

import (
	"testing"
	"time"
)

func TestIsCurrentlyVerified(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ent  Entitlement
		want bool
	}{
		{
			name: "verified and not expired",
			ent:  Entitlement{Verified: true, ExpiresAt: ptr(now.Add(time.Hour))},
			want: true,
		},
		{
			name: "verified but expired",
			ent:  Entitlement{Verified: true, ExpiresAt: ptr(now.Add(-time.Second))},
			want: false,
		},
		{
			name: "verified at exact boundary is still valid",
			ent:  Entitlement{Verified: true, ExpiresAt: ptr(now)},
			want: true,
		},
		{
			name: "never verified",
			ent:  Entitlement{Verified: false, ExpiresAt: ptr(now.Add(time.Hour))},
			want: false,
		},
		{
			name: "verified with nil expiry",
			ent:  Entitlement{Verified: true, ExpiresAt: nil},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ent.IsCurrentlyVerified(now); got != tt.want {
				t.Errorf("IsCurrentlyVerified() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasSeen(t *testing.T) {
	ent := Entitlement{FilesSeen: []int64{7, 8, 9}}

	if !ent.HasSeen(8) {
		t.Error("HasSeen(8) = false, want true")
	}
	if ent.HasSeen(10) {
		t.Error("HasSeen(10) = true, want false")
	}
	if (&Entitlement{}).HasSeen(1) {
		t.Error("HasSeen on empty files_seen = true, want false")
	}
}

func ptr[T any](v T) *T { return &v }
