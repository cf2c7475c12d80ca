// Package container wraps the three container-engine operations the
// reconciler needs: check existence by name, create and record a new
// service container, and force-remove one by id.
package container
