// Package learning is the paid learning-module marketplace.
//
// Modules are priced in native currency and reward tokens at the same time;
// enrolling pays both legs to the revenue account or neither.
package learning

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/bank"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/credential"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/reward"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// Component names the platform in events and metrics.
const Component = "learning"

// Event kinds.
const (
	EventModuleLaunched    = "ModuleLaunched"
	EventEnrolled          = "Enrolled"
	EventModuleCompleted   = "ModuleCompleted"
	EventModuleDeactivated = "ModuleDeactivated"
)

// Module is a learning module offered by an instructor.
type Module struct {
	ID          uint64         `json:"id"`
	Instructor  access.Account `json:"instructor"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	NativeCost  units.Amount   `json:"native_cost"`
	TokenCost   units.Amount   `json:"token_cost"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	Enrollments uint64         `json:"enrollments"`
}

// Enrollment links a learner to a module.
type Enrollment struct {
	ModuleID     uint64         `json:"module_id"`
	Learner      access.Account `json:"learner"`
	Completed    bool           `json:"completed"`
	EnrolledAt   time.Time      `json:"enrolled_at"`
	CompletedAt  time.Time      `json:"completed_at,omitempty"`
	CredentialID uint64         `json:"credential_id,omitempty"`
}

type enrollmentKey struct {
	module  uint64
	learner access.Account
}

// Config is the deployment configuration of a Platform.
type Config struct {
	// Account is the platform's own principal; completion credentials and
	// awards are issued from it.
	Account        access.Account
	RevenueAccount access.Account
	// IssueCredential issues a completion credential through the registry.
	IssueCredential bool
	// CompletionAward is the achievement awarded on completion; empty disables.
	CompletionAward string
}

// Platform is the ModulePlatform registry.
type Platform struct {
	chain    *chain.Chain
	roles    *access.Roles
	bank     *bank.Bank
	ledger   *reward.Ledger
	registry *credential.Registry
	cfg      Config

	modules     []*Module
	enrollments map[enrollmentKey]*Enrollment
	completions uint64
}

// New deploys a platform administered by deployer.
func New(c *chain.Chain, deployer access.Account, nb *bank.Bank, ledger *reward.Ledger, registry *credential.Registry, cfg Config) (*Platform, error) {
	if !deployer.Valid() || !cfg.Account.Valid() || !cfg.RevenueAccount.Valid() {
		return nil, fmt.Errorf("%w: deployer, platform and revenue accounts are required", sentinel.ErrInvalidArgument)
	}
	if nb == nil || ledger == nil || registry == nil {
		return nil, fmt.Errorf("%w: bank, ledger and registry handles are required", sentinel.ErrInvalidArgument)
	}
	if cfg.CompletionAward != "" {
		if _, err := reward.AchievementReward(cfg.CompletionAward); err != nil {
			return nil, err
		}
	}
	return &Platform{
		chain:       c,
		roles:       access.NewRoles(Component, deployer, access.InstructorRole, access.LearnerRole),
		bank:        nb,
		ledger:      ledger,
		registry:    registry,
		cfg:         cfg,
		enrollments: make(map[enrollmentKey]*Enrollment),
	}, nil
}

// AssignInstructorRole lets acct launch modules. Admin only.
func (p *Platform) AssignInstructorRole(ctx context.Context, caller, acct access.Account) error {
	return p.grant(ctx, "assign_instructor", caller, access.InstructorRole, acct)
}

// AssignLearnerRole lets acct enroll. Admin only.
func (p *Platform) AssignLearnerRole(ctx context.Context, caller, acct access.Account) error {
	return p.grant(ctx, "assign_learner", caller, access.LearnerRole, acct)
}

// RevokeInstructorRole is the inverse of AssignInstructorRole.
func (p *Platform) RevokeInstructorRole(ctx context.Context, caller, acct access.Account) error {
	return p.revoke(ctx, "revoke_instructor", caller, access.InstructorRole, acct)
}

// RevokeLearnerRole is the inverse of AssignLearnerRole.
func (p *Platform) RevokeLearnerRole(ctx context.Context, caller, acct access.Account) error {
	return p.revoke(ctx, "revoke_learner", caller, access.LearnerRole, acct)
}

// GrantAdmin adds an administrator. Admin only.
func (p *Platform) GrantAdmin(ctx context.Context, caller, acct access.Account) error {
	return p.grant(ctx, "grant_admin", caller, access.Admin, acct)
}

// RevokeAdmin removes an administrator. Admin only.
func (p *Platform) RevokeAdmin(ctx context.Context, caller, acct access.Account) error {
	return p.revoke(ctx, "revoke_admin", caller, access.Admin, acct)
}

func (p *Platform) grant(ctx context.Context, op string, caller access.Account, role access.RoleKind, acct access.Account) error {
	return p.chain.Atomic(ctx, Component, op, func(ctx context.Context, tx *chain.Tx) error {
		return p.roles.Grant(tx, caller, role, acct)
	})
}

func (p *Platform) revoke(ctx context.Context, op string, caller access.Account, role access.RoleKind, acct access.Account) error {
	return p.chain.Atomic(ctx, Component, op, func(ctx context.Context, tx *chain.Tx) error {
		return p.roles.Revoke(tx, caller, role, acct)
	})
}

// HasRole reports whether acct holds role on the platform.
func (p *Platform) HasRole(ctx context.Context, role access.RoleKind, acct access.Account) (bool, error) {
	var ok bool
	err := p.chain.View(ctx, func(time.Time) error {
		ok = p.roles.Has(role, acct)
		return nil
	})
	return ok, err
}

// LaunchModule publishes an active module owned by caller and returns its id.
// The caller must hold InstructorRole.
func (p *Platform) LaunchModule(ctx context.Context, caller access.Account, title, description string, nativeCost, tokenCost units.Amount) (uint64, error) {
	var id uint64
	err := p.chain.Atomic(ctx, Component, "launch", func(ctx context.Context, tx *chain.Tx) error {
		if err := p.roles.Require(caller, access.InstructorRole); err != nil {
			return err
		}
		if strings.TrimSpace(title) == "" {
			return fmt.Errorf("%w: empty title", sentinel.ErrInvalidArgument)
		}
		m := &Module{
			ID:          uint64(len(p.modules)) + 1,
			Instructor:  caller,
			Title:       title,
			Description: description,
			NativeCost:  nativeCost,
			TokenCost:   tokenCost,
			Active:      true,
			CreatedAt:   tx.Now(),
		}
		p.modules = append(p.modules, m)
		tx.OnRollback(func() { p.modules = p.modules[:len(p.modules)-1] })
		tx.Emit(events.Event{
			Kind:     EventModuleLaunched,
			Actor:    string(caller),
			Accounts: []string{string(caller)},
			Ref:      strconv.FormatUint(m.ID, 10),
			Attrs: map[string]string{
				"title":       title,
				"native_cost": strconv.FormatUint(uint64(nativeCost), 10),
				"token_cost":  strconv.FormatUint(uint64(tokenCost), 10),
			},
		})
		id = m.ID
		return nil
	})
	return id, err
}

// Enroll pays both prices of an active module from caller to the revenue
// account and records the enrollment. The caller must hold LearnerRole.
func (p *Platform) Enroll(ctx context.Context, caller access.Account, moduleID uint64) error {
	return p.chain.Atomic(ctx, Component, "enroll", func(ctx context.Context, tx *chain.Tx) error {
		if err := p.roles.Require(caller, access.LearnerRole); err != nil {
			return err
		}
		m, err := p.module(moduleID)
		if err != nil {
			return err
		}
		if !m.Active {
			return fmt.Errorf("%w: module %d is inactive", sentinel.ErrInvalidState, moduleID)
		}
		key := enrollmentKey{moduleID, caller}
		if _, dup := p.enrollments[key]; dup {
			return fmt.Errorf("%w: %s already enrolled in module %d", sentinel.ErrInvalidState, caller, moduleID)
		}
		if m.NativeCost > 0 {
			if err := p.bank.Transfer(ctx, caller, p.cfg.RevenueAccount, m.NativeCost); err != nil {
				return err
			}
		}
		if m.TokenCost > 0 {
			if err := p.ledger.Transfer(ctx, caller, p.cfg.RevenueAccount, m.TokenCost); err != nil {
				return err
			}
		}
		p.enrollments[key] = &Enrollment{ModuleID: moduleID, Learner: caller, EnrolledAt: tx.Now()}
		m.Enrollments++
		tx.OnRollback(func() {
			delete(p.enrollments, key)
			m.Enrollments--
		})
		tx.Emit(events.Event{
			Kind:     EventEnrolled,
			Actor:    string(caller),
			Accounts: []string{string(caller), string(p.cfg.RevenueAccount)},
			Ref:      strconv.FormatUint(moduleID, 10),
			Attrs: map[string]string{
				"native_paid": strconv.FormatUint(uint64(m.NativeCost), 10),
				"token_paid":  strconv.FormatUint(uint64(m.TokenCost), 10),
			},
		})
		return nil
	})
}

// CompleteModule marks learner's enrollment completed. The caller must be the
// module's instructor or an Admin. It returns the completion credential id, or
// zero when credentials are disabled.
func (p *Platform) CompleteModule(ctx context.Context, caller access.Account, moduleID uint64, learner access.Account) (uint64, error) {
	var credID uint64
	err := p.chain.Atomic(ctx, Component, "complete", func(ctx context.Context, tx *chain.Tx) error {
		m, err := p.module(moduleID)
		if err != nil {
			return err
		}
		if caller != m.Instructor {
			if err := p.roles.Require(caller, access.Admin); err != nil {
				return err
			}
		}
		en, ok := p.enrollments[enrollmentKey{moduleID, learner}]
		if !ok {
			return fmt.Errorf("%w: %s is not enrolled in module %d", sentinel.ErrNotFound, learner, moduleID)
		}
		if en.Completed {
			return fmt.Errorf("%w: %s already completed module %d", sentinel.ErrInvalidState, learner, moduleID)
		}
		if p.cfg.IssueCredential {
			ref := fmt.Sprintf("nexc://module/%d/completion/%s", moduleID, learner)
			id, err := p.registry.Issue(ctx, p.cfg.Account, learner, ref)
			if err != nil {
				return err
			}
			credID = id
		}
		if p.cfg.CompletionAward != "" {
			if _, err := p.ledger.AwardTokens(ctx, p.cfg.Account, learner, p.cfg.CompletionAward, 1); err != nil {
				return err
			}
		}
		prev := *en
		en.Completed = true
		en.CompletedAt = tx.Now()
		en.CredentialID = credID
		p.completions++
		tx.OnRollback(func() {
			*en = prev
			p.completions--
		})
		e := events.Event{
			Kind:     EventModuleCompleted,
			Actor:    string(caller),
			Accounts: []string{string(learner)},
			Ref:      strconv.FormatUint(moduleID, 10),
		}
		if credID != 0 {
			e.Attrs = map[string]string{"credential_id": strconv.FormatUint(credID, 10)}
		}
		tx.Emit(e)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return credID, nil
}

// DeactivateModule stops new enrollments. Deactivating an inactive module
// succeeds without effect. The caller must be the module's instructor or an Admin.
func (p *Platform) DeactivateModule(ctx context.Context, caller access.Account, moduleID uint64) error {
	return p.chain.Atomic(ctx, Component, "deactivate", func(ctx context.Context, tx *chain.Tx) error {
		m, err := p.module(moduleID)
		if err != nil {
			return err
		}
		if caller != m.Instructor {
			if err := p.roles.Require(caller, access.Admin); err != nil {
				return err
			}
		}
		if !m.Active {
			return nil
		}
		m.Active = false
		tx.OnRollback(func() { m.Active = true })
		tx.Emit(events.Event{
			Kind:  EventModuleDeactivated,
			Actor: string(caller),
			Ref:   strconv.FormatUint(moduleID, 10),
		})
		return nil
	})
}

// Module returns a copy of module id.
func (p *Platform) Module(ctx context.Context, id uint64) (Module, error) {
	var out Module
	err := p.chain.View(ctx, func(time.Time) error {
		m, err := p.module(id)
		if err != nil {
			return err
		}
		out = *m
		return nil
	})
	return out, err
}

// Modules lists every module by id; activeOnly filters deactivated ones.
func (p *Platform) Modules(ctx context.Context, activeOnly bool) ([]Module, error) {
	var out []Module
	err := p.chain.View(ctx, func(time.Time) error {
		for _, m := range p.modules {
			if activeOnly && !m.Active {
				continue
			}
			out = append(out, *m)
		}
		return nil
	})
	return out, err
}

// Enrollment returns learner's enrollment in module id.
func (p *Platform) Enrollment(ctx context.Context, moduleID uint64, learner access.Account) (Enrollment, error) {
	var out Enrollment
	err := p.chain.View(ctx, func(time.Time) error {
		en, ok := p.enrollments[enrollmentKey{moduleID, learner}]
		if !ok {
			return fmt.Errorf("%w: %s is not enrolled in module %d", sentinel.ErrNotFound, learner, moduleID)
		}
		out = *en
		return nil
	})
	return out, err
}

// EnrollmentsOf lists learner's enrollments by module id.
func (p *Platform) EnrollmentsOf(ctx context.Context, learner access.Account) ([]Enrollment, error) {
	var out []Enrollment
	err := p.chain.View(ctx, func(time.Time) error {
		for k, en := range p.enrollments {
			if k.learner == learner {
				out = append(out, *en)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, err
}

// Description is the platform's status surface.
type Description struct {
	Account         access.Account `json:"account"`
	ModuleIDCounter uint64         `json:"module_id_counter"`
	RevenueAccount  access.Account `json:"revenue_account"`
	ActiveModules   int            `json:"active_modules"`
	Enrollments     int            `json:"enrollments"`
	Completions     uint64         `json:"completions"`
}

func (p *Platform) Describe(ctx context.Context) (Description, error) {
	var d Description
	err := p.chain.View(ctx, func(time.Time) error {
		d = Description{
			Account:         p.cfg.Account,
			ModuleIDCounter: uint64(len(p.modules)),
			RevenueAccount:  p.cfg.RevenueAccount,
			Enrollments:     len(p.enrollments),
			Completions:     p.completions,
		}
		for _, m := range p.modules {
			if m.Active {
				d.ActiveModules++
			}
		}
		return nil
	})
	return d, err
}

func (p *Platform) module(id uint64) (*Module, error) {
	if id == 0 || id > uint64(len(p.modules)) {
		return nil, fmt.Errorf("%w: module %d", sentinel.ErrNotFound, id)
	}
	return p.modules[id-1], nil
}
