// Package policysync pulls signed policy bundles from the management
// server and hands them to the policy store.
//
// Each cycle moves through Idle, Fetching and Verifying and ends in one of
// Installed, Rejected, NotModified or Failed before returning to Idle.
// Cycles run every sync.interval on a cron schedule and on Trigger, which is
// rate limited. A cycle never overlaps another: a cycle that would start
// while one is in flight is skipped.
//
// Transport failures, timeouts and non-2xx answers are ordinary failures
// retried on the next cycle. A bundle the store refuses leaves the previous
// bundle active and is recorded in the audit chain as a critical
// config.change event.
//
//	client, err := policysync.New(policysync.Config{
//	    BaseURL:  cfg.Sync.BaseURL,
//	    Token:    cfg.Sync.Token,
//	    DeviceID: cfg.Agent.DeviceID,
//	    Interval: cfg.Sync.Interval,
//	}, store, chain, collector, logger)
//	if err != nil {
//	    return err
//	}
//	client.Start(ctx)
//	defer client.Stop()
package policysync
