// Package metrics exposes bridge activity as Prometheus metrics.
//
// Collector implements mesh.Observer, so passing it to the session counts
// every poll, command and discarded response. Handler serves the private
// registry on /metrics.
package metrics
