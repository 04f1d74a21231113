// Package ids generates correlation ids for requests and probes.
//
// Request ids must be unique among all concurrently outstanding requests
// across the provider, relay, and router. ULIDs with a monotonic entropy
// source give that guarantee per process and make ids time-sortable in
// logs.
package ids
