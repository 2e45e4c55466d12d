package cache

import (
	"context"

	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/go-redis/redis/v8"
)

// Backend is the store the directory reads through to
type Backend interface {
	GetPrincipal(ctx context.Context, id string) (*auth.Principal, error)
	UpdatePrincipal(ctx context.Context, p *auth.Principal) error
	GetOrganization(ctx context.Context, id string) (*orgs.Organization, error)
	UpdateOrganization(ctx context.Context, org *orgs.Organization) error
}

// Directory caches the principal and organization lookups made on every
// authenticated request. Writes made through it invalidate the cached entry.
// Principals served from the cache carry no password hash.
type Directory struct {
	backend       Backend
	principals    *Tiered[*auth.Principal]
	organizations *Tiered[*orgs.Organization]
}

// NewDirectory wraps backend. client may be nil for a local-only cache.
func NewDirectory(backend Backend, config storage.Config, client *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *Directory {
	return &Directory{
		backend: backend,
		principals: New(Options[*auth.Principal]{
			Name:    "principal",
			Size:    config.L1CacheSize,
			TTL:     config.CacheTTL,
			Redis:   client,
			Clone:   (*auth.Principal).Clone,
			Metrics: metrics,
			Logger:  logger,
		}),
		organizations: New(Options[*orgs.Organization]{
			Name:    "organization",
			Size:    config.L1CacheSize,
			TTL:     config.CacheTTL,
			Redis:   client,
			Clone:   (*orgs.Organization).Clone,
			Metrics: metrics,
			Logger:  logger,
		}),
	}
}

func (d *Directory) GetPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	return d.principals.Get(ctx, id, func(ctx context.Context) (*auth.Principal, error) {
		p, err := d.backend.GetPrincipal(ctx, id)
		if err != nil {
			return nil, err
		}
		p.PasswordHash = ""
		return p, nil
	})
}

func (d *Directory) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	return d.organizations.Get(ctx, id, func(ctx context.Context) (*orgs.Organization, error) {
		return d.backend.GetOrganization(ctx, id)
	})
}

// UpdatePrincipal writes through and drops the cached entry
func (d *Directory) UpdatePrincipal(ctx context.Context, p *auth.Principal) error {
	err := d.backend.UpdatePrincipal(ctx, p)
	d.principals.Invalidate(ctx, p.ID)
	return err
}

// UpdateOrganization writes through and drops the cached entry
func (d *Directory) UpdateOrganization(ctx context.Context, org *orgs.Organization) error {
	err := d.backend.UpdateOrganization(ctx, org)
	d.organizations.Invalidate(ctx, org.ID)
	return err
}

// InvalidatePrincipal drops a principal changed outside the directory
func (d *Directory) InvalidatePrincipal(ctx context.Context, id string) {
	d.principals.Invalidate(ctx, id)
}

// InvalidateOrganization drops an organization changed outside the directory
func (d *Directory) InvalidateOrganization(ctx context.Context, id string) {
	d.organizations.Invalidate(ctx, id)
}
