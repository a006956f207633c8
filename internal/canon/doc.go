// Package canon produces canonical JSON and content fingerprints.
//
// Staged-action deduplication depends on equivalent argument maps hashing
// identically: the same operation proposed twice with different key order
// or whitespace must collide on its fingerprint. canon provides the
// deterministic serialization that makes the fingerprint stable:
//
//   - Object keys sorted by UTF-16 code units (RFC 8785 ordering)
//   - No HTML escaping
//   - Strings NFC normalized
//   - Integers and floats in shortest-round-trip form; NaN/Inf rejected
//
// Fingerprints are SHA-256 with a domain-separation prefix so hashes from
// different record kinds can never collide with each other.
package canon
