// Package certification runs the fee-gated instructor certification workflow.
//
// The authority owns an account of its own. Certification credentials are
// issued from that account, so it must hold IssuerRole on the credential
// registry; revoking the role makes certify revert as a whole.
package certification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/credential"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/reward"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// Component names the authority in events and metrics.
const Component = "certification"

// Event kinds.
const (
	EventApplicationSubmitted = "ApplicationSubmitted"
	EventRenewalRequested     = "RenewalRequested"
	EventInstructorCertified  = "InstructorCertified"
	EventApplicationRejected  = "ApplicationRejected"
)

// Config is the deployment configuration of an Authority.
type Config struct {
	// Account is the authority's own principal on its dependencies.
	Account          access.Account
	FeeAccount       access.Account
	CertificationFee units.Amount
	RenewalFee       units.Amount
	// AwardOnCertify mints the instructor_certification achievement to the
	// applicant; Account then needs PlatformRole on the reward ledger.
	AwardOnCertify bool
}

// Authority is the CertificationAuthority registry.
type Authority struct {
	chain    *chain.Chain
	roles    *access.Roles
	ledger   *reward.Ledger
	registry *credential.Registry
	cfg      Config

	apps          map[access.Account]Application
	feesCollected units.Amount
}

// New deploys an authority administered by deployer.
func New(c *chain.Chain, deployer access.Account, ledger *reward.Ledger, registry *credential.Registry, cfg Config) (*Authority, error) {
	if !deployer.Valid() || !cfg.Account.Valid() || !cfg.FeeAccount.Valid() {
		return nil, fmt.Errorf("%w: deployer, authority and fee accounts are required", sentinel.ErrInvalidArgument)
	}
	if ledger == nil || registry == nil {
		return nil, fmt.Errorf("%w: ledger and registry handles are required", sentinel.ErrInvalidArgument)
	}
	if cfg.CertificationFee.IsZero() || cfg.RenewalFee.IsZero() {
		return nil, fmt.Errorf("%w: certification and renewal fees must be positive", sentinel.ErrInvalidAmount)
	}
	return &Authority{
		chain:    c,
		roles:    access.NewRoles(Component, deployer),
		ledger:   ledger,
		registry: registry,
		cfg:      cfg,
		apps:     make(map[access.Account]Application),
	}, nil
}

// Apply submits caller's application and moves feeAmount of reward tokens from
// caller to the fee account. metadataRef points at the off-ledger application
// document (an IPFS hash, for example). A caller already Certified or Expired is treated
// as requesting renewal and must cover the renewal fee.
func (a *Authority) Apply(ctx context.Context, caller access.Account, name, domain string, evidenceRefs []string, metadataRef string, feeAmount units.Amount) error {
	return a.chain.Atomic(ctx, Component, "apply", func(ctx context.Context, tx *chain.Tx) error {
		if !caller.Valid() {
			return fmt.Errorf("%w: empty applicant", sentinel.ErrInvalidArgument)
		}
		if strings.TrimSpace(name) == "" || strings.TrimSpace(domain) == "" {
			return fmt.Errorf("%w: name and domain are required", sentinel.ErrInvalidArgument)
		}
		prev, had := a.apps[caller]
		status := prev.statusAt(tx.Now())
		renewal := status == Certified || status == Expired
		if status == Pending {
			return fmt.Errorf("%w: %s already has a pending application", sentinel.ErrDuplicatePending, caller)
		}
		required := a.cfg.CertificationFee
		if renewal {
			required = a.cfg.RenewalFee
		}
		if feeAmount < required {
			return fmt.Errorf("%w: fee %d below required %d", sentinel.ErrInvalidAmount, feeAmount, required)
		}
		if err := a.collect(ctx, tx, caller, feeAmount); err != nil {
			return err
		}

		next := Application{
			Applicant:    caller,
			Name:         name,
			Domain:       domain,
			EvidenceRefs: append([]string(nil), evidenceRefs...),
			MetadataRef:  metadataRef,
			Status:       Pending,
			FeePaid:      feeAmount,
			SubmittedAt:  tx.Now(),
		}
		kind := EventApplicationSubmitted
		if renewal {
			next.Renewals = prev.Renewals + 1
			next.CredentialID = prev.CredentialID
			next.Level = prev.Level
			kind = EventRenewalRequested
		}
		a.put(tx, caller, next, prev, had)
		tx.Emit(events.Event{
			Kind:     kind,
			Actor:    string(caller),
			Accounts: []string{string(caller)},
			Amount:   uint64(feeAmount),
			Attrs:    map[string]string{"domain": domain},
		})
		return nil
	})
}

// Certify grants level to a Pending applicant for validity (zero means the
// certification never expires) and issues the certification credential. Admin
// only. It returns the credential id.
func (a *Authority) Certify(ctx context.Context, caller, applicant access.Account, level Level, validity time.Duration) (uint64, error) {
	var credID uint64
	err := a.chain.Atomic(ctx, Component, "certify", func(ctx context.Context, tx *chain.Tx) error {
		if err := a.roles.Require(caller, access.Admin); err != nil {
			return err
		}
		if !level.Valid() {
			return fmt.Errorf("%w: unknown certification level %d", sentinel.ErrInvalidArgument, int(level))
		}
		if validity < 0 {
			return fmt.Errorf("%w: negative validity", sentinel.ErrInvalidArgument)
		}
		app, err := a.pending(applicant)
		if err != nil {
			return err
		}

		ref := fmt.Sprintf("nexc://certification/%s/%s/%d", applicant, level, app.Renewals)
		id, err := a.registry.Issue(ctx, a.cfg.Account, applicant, ref)
		if err != nil {
			return err
		}
		if a.cfg.AwardOnCertify {
			if _, err := a.ledger.AwardTokens(ctx, a.cfg.Account, applicant, reward.InstructorCertification, 1); err != nil {
				return err
			}
		}

		next := app.clone()
		next.Status = Certified
		next.Level = level
		next.DecidedAt = tx.Now()
		next.CredentialID = id
		next.RejectionReason = ""
		next.ExpiresAt = time.Time{}
		if validity > 0 {
			next.ExpiresAt = tx.Now().Add(validity)
		}
		a.put(tx, applicant, next, app, true)

		attrs := map[string]string{"level": level.String(), "expires_at": "never"}
		if !next.ExpiresAt.IsZero() {
			attrs["expires_at"] = next.ExpiresAt.Format(time.RFC3339)
		}
		tx.Emit(events.Event{
			Kind:     EventInstructorCertified,
			Actor:    string(caller),
			Accounts: []string{string(applicant)},
			Ref:      strconv.FormatUint(id, 10),
			Attrs:    attrs,
		})
		credID = id
		return nil
	})
	return credID, err
}

// Reject closes a Pending application. The fee is not refunded. Admin only.
func (a *Authority) Reject(ctx context.Context, caller, applicant access.Account, reasonRef string) error {
	return a.chain.Atomic(ctx, Component, "reject", func(ctx context.Context, tx *chain.Tx) error {
		if err := a.roles.Require(caller, access.Admin); err != nil {
			return err
		}
		app, err := a.pending(applicant)
		if err != nil {
			return err
		}
		next := app.clone()
		next.Status = Rejected
		next.DecidedAt = tx.Now()
		next.RejectionReason = reasonRef
		a.put(tx, applicant, next, app, true)
		tx.Emit(events.Event{
			Kind:     EventApplicationRejected,
			Actor:    string(caller),
			Accounts: []string{string(applicant)},
			Ref:      reasonRef,
		})
		return nil
	})
}

// Renew returns a Certified or Expired applicant to Pending. The caller, who
// must be the applicant or an Admin, pays the renewal fee.
func (a *Authority) Renew(ctx context.Context, caller, applicant access.Account) error {
	return a.chain.Atomic(ctx, Component, "renew", func(ctx context.Context, tx *chain.Tx) error {
		if caller != applicant {
			if err := a.roles.Require(caller, access.Admin); err != nil {
				return err
			}
		}
		app, ok := a.apps[applicant]
		if !ok {
			return fmt.Errorf("%w: no application for %s", sentinel.ErrNotFound, applicant)
		}
		status := app.statusAt(tx.Now())
		if status != Certified && status != Expired {
			return fmt.Errorf("%w: cannot renew a %s application", sentinel.ErrInvalidState, status)
		}
		if err := a.collect(ctx, tx, caller, a.cfg.RenewalFee); err != nil {
			return err
		}
		next := app.clone()
		next.Status = Pending
		next.FeePaid = a.cfg.RenewalFee
		next.SubmittedAt = tx.Now()
		next.DecidedAt = time.Time{}
		next.Renewals++
		a.put(tx, applicant, next, app, true)
		tx.Emit(events.Event{
			Kind:     EventRenewalRequested,
			Actor:    string(caller),
			Accounts: []string{string(applicant)},
			Amount:   uint64(a.cfg.RenewalFee),
		})
		return nil
	})
}

// Application returns applicant's record with its derived status.
func (a *Authority) Application(ctx context.Context, applicant access.Account) (Application, error) {
	var out Application
	err := a.chain.View(ctx, func(now time.Time) error {
		app, ok := a.apps[applicant]
		if !ok {
			return fmt.Errorf("%w: no application for %s", sentinel.ErrNotFound, applicant)
		}
		out = app.clone()
		out.Status = app.statusAt(now)
		return nil
	})
	return out, err
}

// IsCertified reports whether acct holds an unexpired certification.
func (a *Authority) IsCertified(ctx context.Context, acct access.Account) (bool, error) {
	var ok bool
	err := a.chain.View(ctx, func(now time.Time) error {
		app, found := a.apps[acct]
		ok = found && app.statusAt(now) == Certified
		return nil
	})
	return ok, err
}

// GrantAdmin adds an administrator. Admin only.
func (a *Authority) GrantAdmin(ctx context.Context, caller, acct access.Account) error {
	return a.chain.Atomic(ctx, Component, "grant_admin", func(ctx context.Context, tx *chain.Tx) error {
		return a.roles.Grant(tx, caller, access.Admin, acct)
	})
}

// RevokeAdmin removes an administrator. Admin only.
func (a *Authority) RevokeAdmin(ctx context.Context, caller, acct access.Account) error {
	return a.chain.Atomic(ctx, Component, "revoke_admin", func(ctx context.Context, tx *chain.Tx) error {
		return a.roles.Revoke(tx, caller, access.Admin, acct)
	})
}

// Description is the authority's status surface.
type Description struct {
	Account          access.Account `json:"account"`
	FeeAccount       access.Account `json:"fee_account"`
	CertificationFee units.Amount   `json:"certification_fee"`
	RenewalFee       units.Amount   `json:"renewal_fee"`
	Applications     int            `json:"applications"`
	Pending          int            `json:"pending"`
	Certified        int            `json:"certified"`
	FeesCollected    units.Amount   `json:"fees_collected"`
}

func (a *Authority) Describe(ctx context.Context) (Description, error) {
	var d Description
	err := a.chain.View(ctx, func(now time.Time) error {
		d = Description{
			Account:          a.cfg.Account,
			FeeAccount:       a.cfg.FeeAccount,
			CertificationFee: a.cfg.CertificationFee,
			RenewalFee:       a.cfg.RenewalFee,
			Applications:     len(a.apps),
			FeesCollected:    a.feesCollected,
		}
		for _, app := range a.apps {
			switch app.statusAt(now) {
			case Pending:
				d.Pending++
			case Certified:
				d.Certified++
			}
		}
		return nil
	})
	return d, err
}

func (a *Authority) pending(applicant access.Account) (Application, error) {
	app, ok := a.apps[applicant]
	if !ok {
		return Application{}, fmt.Errorf("%w: no application for %s", sentinel.ErrNotFound, applicant)
	}
	if app.Status != Pending {
		return Application{}, fmt.Errorf("%w: application of %s is %s", sentinel.ErrInvalidState, applicant, app.Status)
	}
	return app, nil
}

func (a *Authority) collect(ctx context.Context, tx *chain.Tx, payer access.Account, fee units.Amount) error {
	if err := a.ledger.Transfer(ctx, payer, a.cfg.FeeAccount, fee); err != nil {
		return err
	}
	total, err := a.feesCollected.Add(fee)
	if err != nil {
		return err
	}
	prev := a.feesCollected
	a.feesCollected = total
	tx.OnRollback(func() { a.feesCollected = prev })
	return nil
}

func (a *Authority) put(tx *chain.Tx, acct access.Account, next, prev Application, had bool) {
	a.apps[acct] = next
	tx.OnRollback(func() {
		if had {
			a.apps[acct] = prev
		} else {
			delete(a.apps, acct)
		}
	})
}
