// Package log wraps zerolog with fats' conventions: a global Logger
// configured once via Init, component loggers via WithComponent, and
// project/generation-scoped loggers for the reconciler and builder.
package log
