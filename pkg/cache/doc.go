// Package cache provides a Redis-backed cache for WFS service metadata
// documents (GetCapabilities and DescribeFeatureType responses).
//
// Capability documents change rarely but are requested at the start of
// every fetch session; caching them keeps repeated fetch jobs from
// re-downloading the same XML. Feature pages themselves are never cached
// here: page content is what a fetch exists to retrieve fresh.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.DocumentKey{
//		Endpoint: "https://geoserver.example.dk/geoserver/wfs",
//		Request:  "capabilities",
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the service
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - wfs_cache_hits_total{layer="redis"} - Cache hits
//   - wfs_cache_misses_total - Cache misses
//   - wfs_cache_size_bytes{layer="redis"} - Cache size
//   - wfs_cache_errors_total{operation} - Cache operation errors
package cache
