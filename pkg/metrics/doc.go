/*
Package metrics exposes Prometheus collectors for the reconciler,
builder, proxy, and scheduler, plus a small process health checker.

Call Handler to mount the collector registry on /metrics, and
NewTimer/ObserveDuration around any operation that should report a
histogram.
*/
package metrics
