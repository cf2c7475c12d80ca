/*
Package reconciler converges the live ServiceRecords in storage toward
the Projects that are supposed to be running. It is level-triggered: a
pass never looks at what changed since the last pass, only at what is
true right now, so a crash or a missed schedule tick is corrected by
the very next pass rather than requiring special recovery logic.

# Passes

Each call to Run is one whole pass, serialized against any other pass
already in flight by an internal mutex. A pass has two phases:

 1. Adopt or destroy orphans. A ServiceRecord whose Generation doesn't
    match the process's current generation belongs to a previous
    process start. If its Project still exists and its container is
    still alive, the record is relabeled with the current generation
    and kept (the container survives a restart of fats itself). If the
    Project is gone or the container is gone, the record is deleted
    and its container force-removed.
 2. Create missing containers. Every Project not already satisfied by
    an adopted record gets a brand new container and ServiceRecord.

Phase 1 must fully complete before phase 2 starts: a record that phase
1 is about to adopt must not also get a duplicate container created for
it in phase 2. Within each phase, individual items are handled
concurrently, since they don't interact with each other.

A single failing Project or ServiceRecord never aborts the pass -- its
error is logged and counted, and the rest of the pass proceeds.
*/
package reconciler
