/*
Package subprocess is fats' subprocess gateway. Every external
collaborator -- the container engine CLI, the build-plan generator, the
image builder -- is invoked through Run, which spawns the child,
optionally streams its stdout line by line to the logger while
concurrently waiting for it to exit, and returns the exit code and
full captured stdout once the child has exited.
*/
package subprocess
