package prosbc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/telique/sbcfleet/pkg/fleet/models"
	"github.com/telique/sbcfleet/pkg/fleet/store"
)

// DefaultRegistryTTL bounds how long appliance rows are served from memory.
const DefaultRegistryTTL = 10 * time.Minute

const registryCacheSize = 512

// Registry is the read-through cache over the persistent appliance table.
// The core only reads appliances; mutation happens through the admin surface.
type Registry struct {
	store store.Store
	cache *expirable.LRU[string, *models.Appliance]

	mu           sync.Mutex
	activeList   []*models.Appliance
	activeListAt time.Time
	ttl          time.Duration

	// fallback is the environment-derived appliance used when no id is
	// given; nil when the environment does not define one.
	fallback *models.Appliance
}

// NewRegistry creates a registry over the store; zero ttl takes the default.
func NewRegistry(st store.Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	return &Registry{
		store: st,
		cache: expirable.NewLRU[string, *models.Appliance](registryCacheSize, nil, ttl),
		ttl:   ttl,
	}
}

// WithFallback sets the environment-derived default appliance returned by
// Lookup("").
func (r *Registry) WithFallback(app *models.Appliance) *Registry {
	r.fallback = app
	return r
}

// Lookup returns the appliance with the given id, or the environment default
// when id is empty. Passwords never leave this layer in logs.
func (r *Registry) Lookup(ctx context.Context, id string) (*models.Appliance, error) {
	if id == "" {
		if r.fallback != nil {
			return r.fallback, nil
		}
		return nil, opErr(KindNotFound, "", "lookup", "no appliance id given and no environment default configured")
	}

	if app, ok := r.cache.Get(id); ok {
		return app, nil
	}

	app, err := r.store.GetAppliance(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrApplianceNotFound) {
			return nil, &OpError{Kind: KindNotFound, Appliance: id, Op: "lookup", Message: "appliance not registered", Err: err}
		}
		return nil, err
	}
	r.cache.Add(id, app)
	return app, nil
}

// ListActive returns every active appliance, cached for the registry TTL.
func (r *Registry) ListActive(ctx context.Context) ([]*models.Appliance, error) {
	r.mu.Lock()
	if r.activeList != nil && time.Since(r.activeListAt) < r.ttl {
		list := r.activeList
		r.mu.Unlock()
		return list, nil
	}
	r.mu.Unlock()

	list, err := r.store.ListActiveAppliances(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.activeList = list
	r.activeListAt = time.Now()
	r.mu.Unlock()
	return list, nil
}

// Invalidate drops the cached row and active list. Used by admin surfaces
// after a mutation.
func (r *Registry) Invalidate(id string) {
	r.cache.Remove(id)
	r.mu.Lock()
	r.activeList = nil
	r.mu.Unlock()
}
