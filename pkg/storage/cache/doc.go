// Package cache provides read-through caching for the lookups the tenant
// middleware performs on every request.
//
// Tiered layers an expirable LRU over an optional Redis tier and collapses
// concurrent misses with singleflight. Directory applies it to principals and
// organizations:
//
//	client, err := cache.NewRedisClient(ctx, cfg)
//	dir := cache.NewDirectory(store, cfg, client, metrics, logger)
//	org, err := dir.GetOrganization(ctx, "org-a")
//
// Redis failures degrade to the backing store and are logged. Loader errors,
// including storage.ErrNotFound, are never cached.
package cache
