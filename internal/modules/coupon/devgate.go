package coupon

import "coworking/internal/pkg/allowlist"

// DevGate decides who may spend test-only coupons. Outside production
// everyone may; in production only allow-listed admin emails.
type DevGate struct {
	production   bool
	unrestricted bool
	admins       allowlist.Emails
}

// NewDevGate builds the gate. unrestricted lifts the production check.
func NewDevGate(production, unrestricted bool, adminEmails []string) *DevGate {
	return &DevGate{production: production, unrestricted: unrestricted, admins: allowlist.New(adminEmails)}
}

func (g *DevGate) Allows(email string) bool {
	if !g.production || g.unrestricted {
		return true
	}
	return g.admins.Contains(email)
}
