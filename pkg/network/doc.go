/*
Package network manages the single container-engine network fats runs
its service containers on. Manager.EnsureNetwork is idempotent and
caches a positive result for the process lifetime; Manager.AttachSelf
additionally connects this process' own container, derived from its
hostname, to that network.
*/
package network
