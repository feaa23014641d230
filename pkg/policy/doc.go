// Package policy defines the data model shared by the inspection engine,
// the policy store and the policy sync client.
//
// # Rules and Bundles
//
// A Rule is a named detection definition: regular expression patterns,
// literal keywords or a metadata predicate (file type, file size,
// destination domain, recipient count), together with a severity, the
// enforcement action to take when it matches, the channels it applies to
// and an optional activity schedule.
//
// A Bundle is a versioned, signed, ordered collection of rules as
// distributed by the management server:
//
//	{
//	  "version": 7,
//	  "policies": [ { "id": "pci-card", ... } ],
//	  "signature": "base64(ed25519(sha256(canonical(policies))))",
//	  "issued_at": "2026-10-01T08:00:00Z"
//	}
//
// The signature covers the canonical serialization of the rule slice
// (see CanonicalRules), never the raw wire bytes, so formatting changes on
// the wire do not invalidate a bundle.
//
// # Immutability
//
// Rules, Bundles, Matches and ScanResults are values. Nothing in this
// module mutates a Rule or Bundle after it has been installed; a policy
// update always produces a new Bundle.
package policy
