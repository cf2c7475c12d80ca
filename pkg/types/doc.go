/*
Package types defines the data model shared by every other package in
fats: Project, ServiceRecord, GenerationCounter, and Secret.

# Core Types

  - Project: an uploaded application at a given version, unique by
    (Name, Version). Re-upload overwrites.
  - ServiceRecord: the live container backing a Project, tagged with
    the Generation of the process that created it.
  - GenerationCounter: a singleton row, one per database, incremented
    once per process start.
  - Secret: a named value upserted independently and referenced by
    name from Project.DesiredSecrets; container creation does not pass
    secret values into containers.

# Invariants

At quiescence, each Project has at most one ServiceRecord. A
ServiceRecord whose Generation does not match the current process's
generation is an orphan left over from a prior process lifetime, and
the reconciler either adopts it (by relabeling it with the current
generation) or destroys it.
*/
package types
