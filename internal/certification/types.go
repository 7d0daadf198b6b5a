package certification

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// Status of an application. Expired is never stored; it is derived from a
// Certified record whose expiry has passed.
type Status int

const (
	None Status = iota
	Pending
	Certified
	Rejected
	Expired
)

func (s Status) String() string {
	switch s {
	case None:
		return "NONE"
	case Pending:
		return "PENDING"
	case Certified:
		return "CERTIFIED"
	case Rejected:
		return "REJECTED"
	case Expired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Level is the grade granted on certification.
type Level int

const (
	Basic Level = iota + 1
	Associate
	CertifiedInstructor
	Expert
)

var levels = []Level{Basic, Associate, CertifiedInstructor, Expert}

func (l Level) String() string {
	switch l {
	case Basic:
		return "BASIC_INSTRUCTOR"
	case Associate:
		return "ASSOCIATE_INSTRUCTOR"
	case CertifiedInstructor:
		return "CERTIFIED_INSTRUCTOR"
	case Expert:
		return "EXPERT_INSTRUCTOR"
	default:
		return ""
	}
}

func (l Level) Valid() bool {
	switch l {
	case Basic, Associate, CertifiedInstructor, Expert:
		return true
	default:
		return false
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// ParseLevel accepts the String form or its first word ("basic", "EXPERT").
func ParseLevel(s string) (Level, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for _, l := range levels {
		if norm == l.String() || norm+"_INSTRUCTOR" == l.String() {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown certification level %q", sentinel.ErrInvalidArgument, s)
}

// Application is an applicant's certification record.
type Application struct {
	Applicant       access.Account `json:"applicant"`
	Name            string         `json:"name"`
	Domain          string         `json:"domain"`
	EvidenceRefs    []string       `json:"evidence_refs"`
	MetadataRef     string         `json:"metadata_ref,omitempty"`
	Status          Status         `json:"status"`
	FeePaid         units.Amount   `json:"fee_paid"`
	Level           Level          `json:"level,omitempty"`
	ExpiresAt       time.Time      `json:"expires_at,omitzero"`
	SubmittedAt     time.Time      `json:"submitted_at,omitzero"`
	DecidedAt       time.Time      `json:"decided_at,omitzero"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	CredentialID    uint64         `json:"credential_id,omitempty"`
	Renewals        uint64         `json:"renewals"`
}

// Never reports whether a granted certification has no expiry.
func (a Application) Never() bool { return a.ExpiresAt.IsZero() }

// MarshalJSON adds "never": true to a granted certification without expiry,
// since expires_at is then absent.
func (a Application) MarshalJSON() ([]byte, error) {
	type plain Application
	granted := a.Status == Certified || a.Status == Expired
	return json.Marshal(struct {
		plain
		Never bool `json:"never,omitempty"`
	}{plain(a), granted && a.Never()})
}

// statusAt derives the visible status at now.
func (a Application) statusAt(now time.Time) Status {
	if a.Status == Certified && !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt) {
		return Expired
	}
	return a.Status
}

func (a Application) clone() Application {
	a.EvidenceRefs = append([]string(nil), a.EvidenceRefs...)
	return a
}
