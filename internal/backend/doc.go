// Package backend provides backend host pools, load balancing, and
// active health probing for the edge gateway.
//
// # Features
//
//   - Host with atomic health status and connection counters
//   - Per-route Pool with runtime host add and remove
//   - Smooth weighted round-robin with random tie-break, plus a random
//     balancer
//   - Prober with hysteresis thresholds that keeps probing hosts taken
//     out of rotation
//   - HTTP and gRPC health-v1 probe protocols
//   - Registry tying pools and probers to the data plane lifecycle
//
// # Usage
//
// A pool is built from configured targets and probed in the background:
//
//	pool, err := backend.NewPool("/api", targets)
//	prober := backend.NewProber(pool, probeCfg)
//	prober.Start()
//
//	host := pool.Pick()
//	defer pool.Release(host)
package backend
