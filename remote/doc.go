// Package remote shares services between runtimes through a NATS KV bucket.
//
// An Announcer watches the local registry for services carrying the export
// property and writes one Endpoint per service under the key
// "<runtime>.<service id>". A Mirror on another runtime watches the bucket
// and registers each foreign Endpoint into its own registry, so local
// components can reference remote services like any other:
//
//	references:
//	  - name: peers
//	    interface: storage.Store
//	    cardinality: "0..n"
//	    policy: dynamic
//	    target: '$env["service.imported"] == true'
//
// The export property holds "*" or a list of interface names. Announcers
// refresh their entries periodically; a Mirror drops endpoints that were
// not refreshed within its TTL, and endpoints of an earlier session when a
// runtime restarts under the same id.
package remote
