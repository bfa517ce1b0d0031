package consumer

import (
	"context"

	"github.com/SirClappington/fscmd/internal/config"
	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/metrics"
	"go.uber.org/zap"
)

type ClaimOutcome string

const (
	Claimed     ClaimOutcome = "claimed"
	Taken       ClaimOutcome = "taken"
	ClaimFailed ClaimOutcome = "error"
)

// Claimer marks records as processing before they are dispatched.
type Claimer struct {
	mode config.ClaimMode
	log  *zap.Logger
}

func NewClaimer(mode config.ClaimMode, log *zap.Logger) *Claimer {
	return &Claimer{mode: mode, log: log}
}

func (c *Claimer) Mode() config.ClaimMode { return c.mode }

// Claim never returns an error; write failures are logged and reported as
// ClaimFailed.
func (c *Claimer) Claim(ctx context.Context, w ClaimWriter, id domain.RecordID) ClaimOutcome {
	ok, err := w.Claim(ctx, id, c.mode == config.ClaimConditional)
	out := Claimed
	switch {
	case err != nil:
		out = ClaimFailed
		c.log.Warn("claim failed", zap.Stringer("id", id), zap.Error(err))
	case !ok:
		out = Taken
		c.log.Debug("record already taken", zap.Stringer("id", id))
	}
	metrics.Claims.WithLabelValues(string(out)).Inc()
	return out
}

// Proceed reports whether a record may be dispatched after the given claim
// outcome. Advisory claims never gate dispatch; conditional ones skip only a
// record another consumer already holds. A failed claim write still
// dispatches, since a live feed will not deliver the record again.
func (c *Claimer) Proceed(o ClaimOutcome) bool {
	if c.mode == config.ClaimAdvisory {
		return true
	}
	return o != Taken
}
