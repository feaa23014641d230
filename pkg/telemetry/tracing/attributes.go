package tracing

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys. Agent specific keys use the "nextguard.*" namespace.
// Inspected content, snippets and matched values are never attributes.
const (
	AttrHTTPMethod = attribute.Key("http.method")
	AttrHTTPRoute  = attribute.Key("http.route")
	AttrHTTPStatus = attribute.Key("http.status_code")

	AttrScanChannel   = attribute.Key("nextguard.scan.channel")
	AttrScanAction    = attribute.Key("nextguard.scan.action")
	AttrScanBytes     = attribute.Key("nextguard.scan.bytes")
	AttrScanMatches   = attribute.Key("nextguard.scan.matches")
	AttrScanTruncated = attribute.Key("nextguard.scan.truncated")

	AttrPolicyVersion = attribute.Key("nextguard.policy.version")
	AttrSyncOutcome   = attribute.Key("nextguard.sync.outcome")

	AttrAuditRecordID = attribute.Key("nextguard.audit.record_id")
	AttrUploadRecords = attribute.Key("nextguard.upload.records")
)
