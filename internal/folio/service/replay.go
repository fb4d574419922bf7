package service

import (
	"time"

	"github.com/aussiebroadwan/folio/pkg/otpx"
	"github.com/patrickmn/go-cache"
)

// ReplayWindow covers every step a TOTP code is accepted in.
const ReplayWindow = (2*otpx.Skew + 1) * otpx.Period * time.Second

// ReplayGuard remembers accepted TOTP codes per user so the same code
// cannot complete two logins. State is per process.
type ReplayGuard struct {
	seen *cache.Cache
}

func NewReplayGuard(window time.Duration) *ReplayGuard {
	if window <= 0 {
		window = ReplayWindow
	}
	return &ReplayGuard{seen: cache.New(window, 2*window)}
}

// Claim records code for userID and reports whether it was unused. A nil
// guard accepts everything.
func (g *ReplayGuard) Claim(userID, code string) bool {
	if g == nil {
		return true
	}
	return g.seen.Add(userID+":"+code, struct{}{}, cache.DefaultExpiration) == nil
}
