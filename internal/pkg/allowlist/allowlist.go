package allowlist

import "strings"

// Emails is a case-insensitive set of trimmed email addresses.
type Emails map[string]struct{}

func New(emails []string) Emails {
	set := make(Emails, len(emails))
	for _, e := range emails {
		if n := normalize(e); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func (s Emails) Contains(email string) bool {
	n := normalize(email)
	if n == "" {
		return false
	}
	_, ok := s[n]
	return ok
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
