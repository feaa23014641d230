// Package query filters records of the local audit log for the
// "nextguard audit query" command.
//
//	sev := policy.SeverityHigh
//	records, err := query.Run(ctx, auditDir, &query.Query{
//	    Category:    audit.CategoryScan,
//	    MinSeverity: &sev,
//	    Limit:       50,
//	})
//
// Results are newest first unless SortOrder is "asc". Unparsable lines are
// skipped; use audit.VerifyDir to check the log's integrity.
package query
