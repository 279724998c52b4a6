package admission

import "strings"

// DefaultTestIdentity is the reserved QA address. Submissions from it bypass
// duplicate and quota checks and are always replaced in place.
const DefaultTestIdentity = "hello@vasilkov.digital"

// Role is the admission path a submission takes.
type Role int

const (
	RoleVisitor Role = iota
	RoleOwner
	RoleTestIdentity
)

func (r Role) String() string {
	switch r {
	case RoleTestIdentity:
		return "test"
	case RoleOwner:
		return "owner"
	default:
		return "visitor"
	}
}

// IsTestIdentity reports whether email matches the reserved address,
// ignoring case and surrounding whitespace.
func IsTestIdentity(email, testIdentity string) bool {
	testIdentity = strings.TrimSpace(testIdentity)
	if testIdentity == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(email), testIdentity)
}

// Classify picks the admission path. The test identity wins over ownership,
// ownership wins over the anonymous visitor.
func Classify(email, testIdentity string, id Identity) Role {
	switch {
	case IsTestIdentity(email, testIdentity):
		return RoleTestIdentity
	case id.IsOwner:
		return RoleOwner
	default:
		return RoleVisitor
	}
}
