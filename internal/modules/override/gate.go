// Package override validates administrative fixed-price bookings. An active
// override replaces coupon and credit stacking entirely.
package override

import (
	"strings"

	"github.com/rs/zerolog"

	"coworking/internal/domain/billing"
	"coworking/internal/pkg/allowlist"
)

const (
	RoleAdmin = "admin"

	gatewayMinimumCents int64 = 100
)

type Request struct {
	FinalCents *int64 `json:"final_cents"`
	Reason     string `json:"reason"`
}

type Session struct {
	UserID int64
	Email  string
	Role   string
}

type Decision struct {
	Allowed    bool
	Active     bool
	Code       billing.ErrorKind
	FinalCents int64
	Reason     string
}

// Err turns a rejected decision into a coded error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return billing.NewError(d.Code, "", rejectionMessage(d.Code))
}

type Gate struct {
	allowed allowlist.Emails
	logger  zerolog.Logger
}

func NewGate(overrideEmails []string, logger zerolog.Logger) *Gate {
	return &Gate{allowed: allowlist.New(overrideEmails), logger: logger}
}

// ValidateOverrideAccess checks shape before identity, so malformed
// requests are reported as such even for unauthorised callers.
func (g *Gate) ValidateOverrideAccess(session Session, req *Request, requestID string) Decision {
	if req == nil {
		return Decision{Allowed: true}
	}

	log := g.logger.With().
		Str("request_id", requestID).
		Int64("user_id", session.UserID).
		Logger()

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		log.Warn().Msg("override rejected: missing reason")
		return Decision{Code: billing.KindOverrideMissingReason}
	}
	if req.FinalCents == nil || *req.FinalCents < 0 {
		log.Warn().Msg("override rejected: invalid amount")
		return Decision{Code: billing.KindOverrideInvalidAmount}
	}
	if !strings.EqualFold(strings.TrimSpace(session.Role), RoleAdmin) && !g.allowed.Contains(session.Email) {
		log.Warn().Str("role", session.Role).Msg("override rejected: access denied")
		return Decision{Code: billing.KindOverrideAccessDenied}
	}

	final := *req.FinalCents
	if final > 0 && final < gatewayMinimumCents {
		final = gatewayMinimumCents
	}

	log.Info().Int64("final_cents", final).Str("reason", reason).Msg("override accepted")
	return Decision{Allowed: true, Active: true, FinalCents: final, Reason: reason}
}

func rejectionMessage(kind billing.ErrorKind) string {
	switch kind {
	case billing.KindOverrideMissingReason:
		return "override reason is required"
	case billing.KindOverrideInvalidAmount:
		return "override final amount must be zero or positive"
	case billing.KindOverrideAccessDenied:
		return "not allowed to override prices"
	}
	return "override rejected"
}
