// Package clock abstracts timer scheduling so connection probes, request
// timeouts, reconnection backoff, and approval sweeps can run against a
// deterministic Fake in tests and the wall clock in production.
package clock
