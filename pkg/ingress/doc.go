// Package ingress exposes the two mgmt endpoints that drive the
// system from the outside: POST /mgmt/tar-upload builds and persists a
// Project, and POST /mgmt/secret/{name} stores a secret value. Both
// are deliberately dumb -- they delegate to pkg/builder, pkg/secrets,
// and pkg/scheduler and add no behavior of their own.
package ingress
