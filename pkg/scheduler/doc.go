// Package scheduler is a cooperative, in-process timer: named actions
// register an interval and get dispatched when it elapses, checked
// once a second. It is a generic building block, not a placement
// engine -- the only consumer today is the reconciliation loop.
package scheduler
