package invitations

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/async"
	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Config tunes the lifecycle
type Config struct {
	// BaseURL is the frontend origin used to build accept links
	BaseURL          string
	Expiry           time.Duration
	ReminderInterval time.Duration
	NotifyTimeout    time.Duration
	BulkConcurrency  int
	// ReminderBatch caps the invitations reminded per sweep
	ReminderBatch int
}

// DefaultConfig returns the standard lifecycle settings
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:3000",
		Expiry:           DefaultExpiry,
		ReminderInterval: ReminderInterval,
		NotifyTimeout:    30 * time.Second,
		BulkConcurrency:  5,
		ReminderBatch:    100,
	}
}

// Dependencies are the collaborators of a Service. Store, Guard, Hasher and
// Issuer are required.
type Dependencies struct {
	Store    Store
	Guard    *orgs.LimitGuard
	Hasher   auth.PasswordHasher
	Issuer   auth.Issuer
	Tokens   auth.TokenSource
	Notifier Notifier
	Auditor  audit.Logger
	Metrics  *observability.Metrics
	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

// Service runs the invitation lifecycle
type Service struct {
	store    Store
	guard    *orgs.LimitGuard
	hasher   auth.PasswordHasher
	issuer   auth.Issuer
	tokens   auth.TokenSource
	notifier Notifier
	auditor  audit.Logger
	metrics  *observability.Metrics
	cfg      Config
	now      func() time.Time

	inflight sync.WaitGroup
}

// NewService creates an invitation service
func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Store == nil || deps.Guard == nil || deps.Hasher == nil || deps.Issuer == nil {
		return nil, errors.New("invitations: store, guard, hasher and issuer are required")
	}

	defaults := DefaultConfig()
	if cfg.Expiry <= 0 {
		cfg.Expiry = defaults.Expiry
	}
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = defaults.ReminderInterval
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaults.NotifyTimeout
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = defaults.BulkConcurrency
	}
	if cfg.ReminderBatch <= 0 {
		cfg.ReminderBatch = defaults.ReminderBatch
	}

	s := &Service{
		store:    deps.Store,
		guard:    deps.Guard,
		hasher:   deps.Hasher,
		issuer:   deps.Issuer,
		tokens:   deps.Tokens,
		notifier: deps.Notifier,
		auditor:  deps.Auditor,
		metrics:  deps.Metrics,
		cfg:      cfg,
		now:      deps.Clock,
	}
	if s.tokens == nil {
		s.tokens = auth.RandomTokens{}
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{}
	}
	if s.auditor == nil {
		s.auditor = audit.NoopLogger{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Create invites req.Email into orgID on behalf of actor
func (s *Service) Create(ctx context.Context, actor *auth.Principal, orgID string, req CreateRequest) (*Invitation, error) {
	ctx, span := observability.Tracer().Start(ctx, "invitations.Create",
		trace.WithAttributes(attribute.String("organization.id", orgID)))
	defer span.End()

	inv, err := s.create(ctx, actor, orgID, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return inv, nil
}

func (s *Service) create(ctx context.Context, actor *auth.Principal, orgID string, req CreateRequest) (*Invitation, error) {
	if err := requireInviter(actor, orgID); err != nil {
		return nil, err
	}

	email, err := parseEmail(req.Email)
	if err != nil {
		return nil, err
	}
	role, err := s.invitableRole(actor, req.Role)
	if err != nil {
		return nil, err
	}
	var perms []auth.Permission
	if len(req.Permissions) > 0 {
		if perms, err = auth.ParsePermissions(req.Permissions); err != nil {
			return nil, err
		}
	}

	var teamRole auth.TeamRole
	if req.TeamID != "" {
		if err := s.requireTeamInOrg(ctx, req.TeamID, orgID); err != nil {
			return nil, err
		}
		if teamRole, err = auth.ParseTeamRole(req.TeamRole); err != nil {
			return nil, err
		}
	}

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, lookupError(err, "organization")
	}
	if err := s.guard.CheckLimit(ctx, actor, org, orgs.ResourceUsers); err != nil {
		return nil, err
	}

	if err := s.checkDuplicate(ctx, orgID, email); err != nil {
		return nil, err
	}

	token, err := s.uniqueToken(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next := now.Add(s.cfg.ReminderInterval)
	inv := &Invitation{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		Permissions:    perms,
		TeamID:         req.TeamID,
		TeamRole:       teamRole,
		Token:          token,
		Status:         StatusPending,
		InvitedBy:      actor.ID,
		Message:        strings.TrimSpace(req.Message),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.Expiry),
		NextReminderAt: &next,
	}

	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, apperr.InvitationState(apperr.InvitationConflict)
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	s.metrics.InvitationTransition(string(StatusPending))
	s.audit(ctx, actor, audit.EventTypeInvitationCreated, inv, nil)
	s.notify(ctx, inv, false)

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"invitation_id": inv.ID,
		"role":          string(inv.Role),
	}).Info("Invitation created")
	return inv.Clone(), nil
}

// invitableRole parses the requested role. super_admin is never invitable and
// org_admin is reserved to org admins and super admins.
func (s *Service) invitableRole(actor *auth.Principal, requested string) (auth.Role, error) {
	if strings.TrimSpace(requested) == "" {
		return auth.RoleAgent, nil
	}
	role, err := auth.ParseRole(requested)
	if err != nil {
		return "", err
	}
	switch role {
	case auth.RoleSuperAdmin:
		return "", apperr.Invalid("role", "super_admin cannot be invited")
	case auth.RoleOrgAdmin:
		if !auth.HasRole(actor, auth.RoleOrgAdmin, auth.RoleSuperAdmin) {
			return "", &apperr.AuthorizationError{
				Required: string(auth.RoleOrgAdmin),
				Message:  "only organization admins can invite organization admins",
			}
		}
	}
	return role, nil
}

func (s *Service) requireTeamInOrg(ctx context.Context, teamID, orgID string) error {
	team, err := s.store.GetTeam(ctx, teamID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && (team.OrganizationID != orgID || !team.IsActive)) {
		return apperr.Invalid("teamId", "team does not belong to this organization")
	}
	if err != nil {
		return fmt.Errorf("failed to get team: %w", err)
	}
	return nil
}

// checkDuplicate rejects an email held by an active principal or by a usable
// pending invitation. A stale pending duplicate is expired so the new row can
// take its place.
func (s *Service) checkDuplicate(ctx context.Context, orgID, email string) error {
	if _, err := s.store.GetPrincipalByEmail(ctx, email); err == nil {
		return &apperr.InvitationStateError{
			Code:    apperr.InvitationConflict,
			Message: "a user with this email already exists",
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to look up principal: %w", err)
	}

	existing, err := s.store.FindPendingInvitation(ctx, orgID, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up invitation: %w", err)
	}

	now := s.now()
	if existing.IsUsable(now) {
		return apperr.InvitationState(apperr.InvitationConflict)
	}
	if err := s.store.ExpireInvitation(ctx, existing.ID, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to expire stale invitation: %w", err)
	}
	s.metrics.InvitationTransition(string(StatusExpired))
	return nil
}

func (s *Service) uniqueToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := s.tokens.NewToken()
		if err != nil {
			return "", err
		}
		_, err = s.store.GetInvitationByToken(ctx, token)
		if errors.Is(err, storage.ErrNotFound) {
			return token, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check token: %w", err)
		}
	}
	return "", fmt.Errorf("failed to generate a unique token after %d attempts", maxTokenAttempts)
}

// Accept consumes token and creates the invited principal
func (s *Service) Accept(ctx context.Context, token string, req AcceptRequest) (*AcceptResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "invitations.Accept")
	defer span.End()

	res, err := s.accept(ctx, token, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return res, nil
}

func (s *Service) accept(ctx context.Context, token string, req AcceptRequest) (*AcceptResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	inv, err := s.usableByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := auth.NewPrincipal(uuid.NewString(), inv.OrganizationID, inv.Email, inv.Role)
	if len(inv.Permissions) > 0 {
		p.Permissions = append([]auth.Permission(nil), inv.Permissions...)
	}
	p.FirstName = strings.TrimSpace(req.FirstName)
	p.LastName = strings.TrimSpace(req.LastName)
	p.PasswordHash = hash
	p.CreatedAt = now
	p.UpdatedAt = now
	if inv.TeamID != "" {
		teamRole := inv.TeamRole
		if teamRole == "" {
			teamRole = auth.TeamRoleMember
		}
		p.JoinTeam(inv.TeamID, teamRole, now)
	}

	accepted, err := s.store.AcceptInvitation(ctx, token, now, p)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.InvitationState(apperr.InvitationNotFound)
	case errors.Is(err, storage.ErrConflict):
		return nil, &apperr.InvitationStateError{
			Code:    apperr.InvitationConflict,
			Message: "a user with this email already exists",
		}
	case err != nil:
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	session, err := s.issuer.Issue(p)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.metrics.InvitationTransition(string(StatusAccepted))
	s.audit(ctx, p, audit.EventTypeInvitationAccepted, accepted, nil)
	return &AcceptResult{Principal: p, SessionToken: session}, nil
}

func (r AcceptRequest) validate() error {
	if strings.TrimSpace(r.FirstName) == "" {
		return apperr.Invalid("firstName", "first name is required")
	}
	if strings.TrimSpace(r.LastName) == "" {
		return apperr.Invalid("lastName", "last name is required")
	}
	if len(r.Password) < auth.MinPasswordLength {
		return apperr.Invalid("password", "password must be at least %d characters", auth.MinPasswordLength)
	}
	return nil
}

// Decline consumes token without creating a principal
func (s *Service) Decline(ctx context.Context, token string) error {
	if !auth.ValidTokenFormat(token) {
		return apperr.InvitationState(apperr.InvitationNotFound)
	}

	inv, err := s.store.DeclineInvitation(ctx, token, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.InvitationState(apperr.InvitationNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to decline invitation: %w", err)
	}

	s.metrics.InvitationTransition(string(StatusDeclined))
	s.audit(ctx, nil, audit.EventTypeInvitationDeclined, inv, nil)
	return nil
}

// GetByToken returns the display details of a usable invitation
func (s *Service) GetByToken(ctx context.Context, token string) (*Details, error) {
	inv, err := s.usableByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	d := &Details{
		Email:          inv.Email,
		Role:           inv.Role,
		OrganizationID: inv.OrganizationID,
		TeamID:         inv.TeamID,
		Message:        inv.Message,
		ExpiresAt:      inv.ExpiresAt,
	}
	d.OrganizationName, d.InviterName = s.names(ctx, inv)
	if inv.TeamID != "" {
		if team, err := s.store.GetTeam(ctx, inv.TeamID); err == nil {
			d.TeamName = team.Name
		}
	}
	return d, nil
}

// usableByToken loads the invitation for token. Unknown, consumed and expired
// tokens all report not_found.
func (s *Service) usableByToken(ctx context.Context, token string) (*Invitation, error) {
	if !auth.ValidTokenFormat(token) {
		return nil, apperr.InvitationState(apperr.InvitationNotFound)
	}
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.InvitationState(apperr.InvitationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if !inv.IsUsable(s.now()) {
		return nil, apperr.InvitationState(apperr.InvitationNotFound)
	}
	return inv, nil
}

// Revoke cancels a usable invitation
func (s *Service) Revoke(ctx context.Context, actor *auth.Principal, orgID, id string) (*Invitation, error) {
	inv, err := s.manageable(ctx, actor, orgID, id)
	if err != nil {
		return nil, err
	}
	if !inv.IsUsable(s.now()) {
		return nil, notPending("only pending invitations can be revoked")
	}

	revoked, err := s.store.RevokeInvitation(ctx, id, actor.ID, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notPending("only pending invitations can be revoked")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke invitation: %w", err)
	}

	s.metrics.InvitationTransition(string(StatusRevoked))
	s.audit(ctx, actor, audit.EventTypeInvitationRevoked, revoked, nil)
	return revoked, nil
}

// Resend sends a reminder for a usable invitation, up to MaxReminders times
func (s *Service) Resend(ctx context.Context, actor *auth.Principal, orgID, id string) (*Invitation, error) {
	inv, err := s.manageable(ctx, actor, orgID, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !inv.IsUsable(now) {
		return nil, notPending("only pending invitations can be resent")
	}
	if inv.ReminderCount >= MaxReminders {
		return nil, apperr.InvitationState(apperr.InvitationRemindersSpent)
	}

	updated, err := s.recordReminder(ctx, inv, now)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, audit.EventTypeInvitationResent, updated, map[string]interface{}{
		"reminder_count": updated.ReminderCount,
	})
	return updated, nil
}

func (s *Service) recordReminder(ctx context.Context, inv *Invitation, now time.Time) (*Invitation, error) {
	var next *time.Time
	if inv.ReminderCount+1 < MaxReminders {
		t := now.Add(s.cfg.ReminderInterval)
		next = &t
	}

	updated, err := s.store.RecordReminder(ctx, inv.ID, now, next)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notPending("invitation is no longer pending")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record reminder: %w", err)
	}
	s.metrics.InvitationReminder()
	s.notify(ctx, updated, true)
	return updated, nil
}

// Extend pushes the expiry of a usable invitation out by days. An invitation
// past its expiry is expired whether or not the sweep has saved that yet.
func (s *Service) Extend(ctx context.Context, actor *auth.Principal, orgID, id string, days int) (*Invitation, error) {
	if days < MinExtendDays || days > MaxExtendDays {
		return nil, apperr.Invalid("days", "must be between %d and %d", MinExtendDays, MaxExtendDays)
	}
	inv, err := s.manageable(ctx, actor, orgID, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !inv.IsUsable(now) {
		return nil, notPending("only pending invitations can be extended")
	}
	expiresAt := inv.ExpiresAt.Add(time.Duration(days) * 24 * time.Hour)

	extended, err := s.store.ExtendInvitation(ctx, id, now, expiresAt)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notPending("only pending invitations can be extended")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to extend invitation: %w", err)
	}

	s.audit(ctx, actor, audit.EventTypeInvitationExtended, extended, map[string]interface{}{
		"days": days,
	})
	return extended, nil
}

// manageable loads invitation id of orgID and checks that actor may change it.
// Only the inviter, org admins and super admins may.
func (s *Service) manageable(ctx context.Context, actor *auth.Principal, orgID, id string) (*Invitation, error) {
	if err := requireInviter(actor, orgID); err != nil {
		return nil, err
	}

	inv, err := s.store.GetInvitation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && inv.OrganizationID != orgID) {
		return nil, apperr.InvitationState(apperr.InvitationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	if inv.InvitedBy != actor.ID && !auth.HasRole(actor, auth.RoleOrgAdmin, auth.RoleSuperAdmin) {
		return nil, &apperr.AuthorizationError{
			Required: string(auth.RoleOrgAdmin),
			Message:  "only the inviter or an organization admin can modify this invitation",
		}
	}
	return inv, nil
}

// List returns a page of orgID's invitations with per-status totals
func (s *Service) List(ctx context.Context, actor *auth.Principal, orgID string, opts ListOptions) (*ListResult, error) {
	if !auth.HasAny(actor, auth.PermInviteUsers, auth.PermViewAllUsers) {
		return nil, apperr.Forbidden("invite_users or view_all_users")
	}
	if err := requireTenant(actor, orgID); err != nil {
		return nil, err
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, apperr.Invalid("status", "unknown status %q", opts.Status)
	}

	opts = opts.normalized()
	now := s.now()
	items, total, err := s.store.ListInvitations(ctx, StoreQuery{
		OrganizationID: orgID,
		Status:         opts.Status,
		Now:            now,
		Offset:         (opts.Page - 1) * opts.Limit,
		Limit:          opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	stats, err := s.store.CountInvitationsByStatus(ctx, orgID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count invitations: %w", err)
	}
	for _, st := range AllStatuses() {
		if _, ok := stats[st]; !ok {
			stats[st] = 0
		}
	}

	for i, inv := range items {
		c := inv.Clone()
		c.Status = c.EffectiveStatus(now)
		items[i] = c
	}
	if items == nil {
		items = []*Invitation{}
	}

	return &ListResult{
		Invitations: items,
		Page:        opts.Page,
		Limit:       opts.Limit,
		Total:       total,
		Pages:       (total + opts.Limit - 1) / opts.Limit,
		Stats:       stats,
	}, nil
}

// BulkCreate invites every entry of reqs. Entries for existing users or pending
// invitations are skipped; other failures are reported per entry.
func (s *Service) BulkCreate(ctx context.Context, actor *auth.Principal, orgID string, reqs []CreateRequest) (*BulkResult, error) {
	if len(reqs) == 0 {
		return nil, apperr.Invalid("invitations", "at least one invitation is required")
	}
	if len(reqs) > MaxBulkSize {
		return nil, apperr.Invalid("invitations", "at most %d invitations per request", MaxBulkSize)
	}
	if err := requireInviter(actor, orgID); err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "invitations.BulkCreate",
		trace.WithAttributes(
			attribute.String("organization.id", orgID),
			attribute.Int("invitations.count", len(reqs)),
		))
	defer span.End()

	type outcome struct {
		inv *Invitation
		err error
	}
	outcomes := make([]outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			inv, err := s.create(ctx, actor, orgID, req)
			outcomes[i] = outcome{inv: inv, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &BulkResult{
		Successful: []*Invitation{},
		Failed:     []BulkFailure{},
		Skipped:    []BulkFailure{},
	}
	for i, o := range outcomes {
		switch {
		case o.err == nil:
			result.Successful = append(result.Successful, o.inv)
		case apperr.IsInvitationState(o.err, apperr.InvitationConflict):
			result.Skipped = append(result.Skipped, BulkFailure{Email: reqs[i].Email, Reason: o.err.Error()})
		default:
			result.Failed = append(result.Failed, BulkFailure{Email: reqs[i].Email, Reason: publicReason(o.err)})
		}
	}

	span.SetAttributes(
		attribute.Int("invitations.successful", len(result.Successful)),
		attribute.Int("invitations.failed", len(result.Failed)),
	)
	return result, nil
}

// SweepExpired persists the expired status of stale pending invitations
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.ExpireInvitations(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	for i := 0; i < n; i++ {
		s.metrics.InvitationTransition(string(StatusExpired))
	}
	if n > 0 {
		observability.FromContext(ctx).WithField("count", n).Info("Expired stale invitations")
	}
	return n, nil
}

// SendDueReminders sends the reminders that are due and returns how many went out
func (s *Service) SendDueReminders(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueReminders(ctx, now, s.cfg.ReminderBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list due reminders: %w", err)
	}

	sent := 0
	for _, inv := range due {
		if !inv.ReminderDue(now) {
			continue
		}
		if _, err := s.recordReminder(ctx, inv, now); err != nil {
			if !apperr.IsInvitationState(err, apperr.InvitationNotPending) {
				observability.FromContext(ctx).WithError(err).
					WithField("invitation_id", inv.ID).
					Warn("Failed to send invitation reminder")
			}
			continue
		}
		sent++
	}
	return sent, nil
}

// Wait blocks until background notifications finish or ctx is done
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) notify(ctx context.Context, inv *Invitation, reminder bool) {
	inv = inv.Clone()
	s.inflight.Add(1)
	async.SafeGo(ctx, s.cfg.NotifyTimeout, "invitation notification", func(ctx context.Context) error {
		defer s.inflight.Done()

		msg := Message{Invitation: inv, AcceptURL: AcceptURL(s.cfg.BaseURL, inv.Token)}
		msg.OrganizationName, msg.InviterName = s.names(ctx, inv)
		if reminder {
			return s.notifier.InvitationReminder(ctx, msg)
		}
		return s.notifier.InvitationCreated(ctx, msg)
	})
}

// names looks up the organization and inviter display names. Lookup failures
// leave the name empty.
func (s *Service) names(ctx context.Context, inv *Invitation) (orgName, inviterName string) {
	if org, err := s.store.GetOrganization(ctx, inv.OrganizationID); err == nil {
		orgName = org.Name
	}
	if inviter, err := s.store.GetPrincipal(ctx, inv.InvitedBy); err == nil {
		inviterName = inviter.FullName()
		if inviterName == "" {
			inviterName = inviter.Email
		}
	}
	return orgName, inviterName
}

func (s *Service) audit(ctx context.Context, actor *auth.Principal, eventType audit.EventType, inv *Invitation, metadata map[string]interface{}) {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess).
		WithResource(audit.ResourceTypeInvitation, inv.ID)
	event.OrganizationID = inv.OrganizationID
	if actor != nil {
		event.ActorID = actor.ID
		event.ActorRole = string(actor.Role)
	}
	event.WithMetadata("email", inv.Email)
	for k, v := range metadata {
		event.WithMetadata(k, v)
	}
	if err := s.auditor.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to write audit event")
	}
}

func requireInviter(actor *auth.Principal, orgID string) error {
	if !auth.HasPermission(actor, auth.PermInviteUsers) {
		return apperr.Forbidden(string(auth.PermInviteUsers))
	}
	return requireTenant(actor, orgID)
}

func requireTenant(actor *auth.Principal, orgID string) error {
	if actor.IsSuperAdmin() || actor.OrganizationID == orgID {
		return nil
	}
	return apperr.CrossTenant()
}

func parseEmail(raw string) (string, error) {
	email := auth.NormalizeEmail(raw)
	if email == "" {
		return "", apperr.Invalid("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("email", "invalid email address")
	}
	return email, nil
}

func lookupError(err error, resource string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(resource)
	}
	return fmt.Errorf("failed to get %s: %w", resource, err)
}

func notPending(message string) error {
	return &apperr.InvitationStateError{Code: apperr.InvitationNotPending, Message: message}
}

// publicReason hides internal errors from bulk results
func publicReason(err error) string {
	if apperr.HTTPStatus(err) >= 500 {
		return "internal error"
	}
	return err.Error()
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	if apperr.HTTPStatus(err) >= 500 {
		span.SetStatus(codes.Error, err.Error())
	}
}
