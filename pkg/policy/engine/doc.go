// Package engine inspects content against the active policy bundle and
// resolves the matches into a single enforcement action.
//
// # Architecture
//
//  1. PatternCache - compiles rule patterns once and caches the compiled
//     matcher (or the compile error) keyed by pattern string
//  2. Engine - evaluates every enabled, in-schedule rule that covers the
//     channel against the content or its metadata
//  3. Resolve - folds the matches into one Action using the fixed priority
//     block > quarantine > encrypt > notify > audit > allow
//
// # Evaluation Flow
//
//	content + channel + metadata
//	       ↓
//	snapshot := store.Current()      (lock-free, immutable)
//	       ↓
//	for each rule in snapshot order:
//	  enabled? covers channel? schedule active?
//	    content kinds  → patterns (cached) + keywords (case-insensitive)
//	    metadata kinds → file type / size / destination / recipients
//	    count >= threshold → contribute matches
//	       ↓
//	highest severity, risk score, Resolve(matches)
//	       ↓
//	ScanResult
//
// The engine holds no per-scan state. Concurrent scans share only the
// pattern cache, which is safe for concurrent use, and the immutable
// bundle snapshot.
//
// # Failure Isolation
//
// A pattern that fails to compile is logged once, when the bundle is
// installed, and skipped on every scan afterwards. Other patterns of the
// same rule and all other rules keep working.
package engine
