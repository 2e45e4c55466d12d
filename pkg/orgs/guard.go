package orgs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/observability"
)

// ResourceClass names a plan-limited resource
type ResourceClass string

const (
	ResourceUsers    ResourceClass = "users"
	ResourceCalls    ResourceClass = "calls"
	ResourceContacts ResourceClass = "contacts"
	ResourceTeams    ResourceClass = "teams"
)

// AllResourceClasses lists every limited resource
func AllResourceClasses() []ResourceClass {
	return []ResourceClass{ResourceUsers, ResourceCalls, ResourceContacts, ResourceTeams}
}

// UsageCounter measures current usage. For calls, only records created at or
// after since are counted; other classes count active records and ignore since.
type UsageCounter interface {
	CountActive(ctx context.Context, organizationID string, class ResourceClass, since time.Time) (int64, error)
}

// UsageReport is current usage against the effective limit for one resource
type UsageReport struct {
	Current   int64 `json:"current"`
	Limit     int64 `json:"limit"`
	Unlimited bool  `json:"unlimited"`
}

// LimitGuard enforces plan limits before resource creation
type LimitGuard struct {
	counter UsageCounter
	catalog atomic.Pointer[PlanCatalog]
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewLimitGuard creates a guard. A nil catalog uses the default plans.
func NewLimitGuard(counter UsageCounter, catalog PlanCatalog, logger *observability.Logger, metrics *observability.Metrics) *LimitGuard {
	if catalog == nil {
		catalog = DefaultPlanCatalog()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	g := &LimitGuard{
		counter: counter,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
	g.catalog.Store(&catalog)
	return g
}

// Catalog returns the plan catalog the guard resolves limits from
func (g *LimitGuard) Catalog() PlanCatalog {
	return *g.catalog.Load()
}

// SetCatalog swaps the plan catalog. Checks already running keep the old one.
func (g *LimitGuard) SetCatalog(catalog PlanCatalog) {
	if catalog == nil {
		catalog = DefaultPlanCatalog()
	}
	g.catalog.Store(&catalog)
}

// CheckLimit returns a *apperr.LimitExceededError when org is at or above its
// limit for class. Super admins bypass the check. When usage cannot be
// measured the check passes and the failure is logged and counted.
func (g *LimitGuard) CheckLimit(ctx context.Context, actor *auth.Principal, org *Organization, class ResourceClass) error {
	if actor.IsSuperAdmin() {
		g.metrics.LimitCheck(string(class), "bypassed")
		return nil
	}

	limit := g.Catalog().EffectiveLimits(org).For(class)
	if limit == Unlimited {
		g.metrics.LimitCheck(string(class), "unlimited")
		return nil
	}

	current, err := g.counter.CountActive(ctx, org.ID, class, g.periodStart(class))
	if err != nil {
		observability.FromContextOr(ctx, g.logger).
			WithError(err).
			WithFields(map[string]interface{}{
				"organization_id": org.ID,
				"resource":        string(class),
				"fail_open":       true,
			}).
			Error("Usage count failed, allowing request")
		g.metrics.LimitFailOpen(string(class))
		return nil
	}

	if current >= limit {
		g.metrics.LimitCheck(string(class), "denied")
		return &apperr.LimitExceededError{Resource: string(class), Current: current, Limit: limit}
	}

	g.metrics.LimitCheck(string(class), "allowed")
	return nil
}

// Usage reports current usage for every resource class. Classes whose count
// fails are reported with Current -1.
func (g *LimitGuard) Usage(ctx context.Context, org *Organization) map[ResourceClass]UsageReport {
	limits := g.Catalog().EffectiveLimits(org)
	report := make(map[ResourceClass]UsageReport, 4)

	for _, class := range AllResourceClasses() {
		limit := limits.For(class)
		current, err := g.counter.CountActive(ctx, org.ID, class, g.periodStart(class))
		if err != nil {
			observability.FromContextOr(ctx, g.logger).WithError(err).
				WithField("resource", string(class)).
				Warn("Usage count failed")
			current = -1
		}
		report[class] = UsageReport{Current: current, Limit: limit, Unlimited: limit == Unlimited}
	}
	return report
}

// periodStart is the window start for class. Calls reset on the first day of
// each UTC month.
func (g *LimitGuard) periodStart(class ResourceClass) time.Time {
	if class != ResourceCalls {
		return time.Time{}
	}
	return MonthStart(g.now())
}

// MonthStart returns midnight UTC on the first day of t's month
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
