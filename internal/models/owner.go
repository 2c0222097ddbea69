package models

import "time"

// Owner identifies the caller an api_key belongs to. The HTTP/auth layer
// that resolves a bearer token into an Owner is out of scope here; this
// backbone treats Owner as an opaque collaborator record it can read and
// debit.
type Owner struct {
	ApiKeyID     string    `json:"api_key_id" badgerholdKey:"ApiKeyID"`
	UserID       string    `json:"user_id,omitempty"`
	Credits      float64   `json:"credits"`
	Tier         string    `json:"tier"` // subscription tier, used for scheduler concurrency limits
	IsActive     bool      `json:"is_active"`
	LastUsedAt   time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TierLimits maps subscription tier names to the maximum number of
// concurrently active scheduled tasks permitted for that tier.
var TierLimits = map[string]int{
	"free":       3,
	"starter":    10,
	"pro":        50,
	"enterprise": 500,
}

// LimitFor returns the active-task ceiling for a tier, defaulting to the
// free tier's limit for unrecognized tiers.
func LimitFor(tier string) int {
	if limit, ok := TierLimits[tier]; ok {
		return limit
	}
	return TierLimits["free"]
}
