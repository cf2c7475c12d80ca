/*
Package proxy resolves "{name}[:{version}]" from the request path to a
running container's ServiceRecord and forwards the request there with
httputil.ReverseProxy, streaming both directions with no timeouts.

Resolutions are cached for 300 seconds per app name; a cache miss
single-flights concurrent lookups for the same name so a cold cache
under load doesn't stampede storage. An app that never uploaded or that
has no running container at all resolves to a 404.
*/
package proxy
