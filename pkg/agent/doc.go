// Package agent assembles the endpoint DLP pipeline.
//
// Channel monitors hold one *Agent and call Scan (or ScanFile) for every
// piece of content they observe. The agent evaluates it against the
// current policy snapshot, audits the decision into the hash-chained log
// and, when the resolved action is quarantine, seals the content into the
// vault. Policy sync, the import watcher, audit upload and retention run in
// the background after Start and never block a scan.
//
//	a, err := agent.New(cfg, collector, logger)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	if err := a.Start(ctx); err != nil {
//	    return err
//	}
//	result := a.Scan(ctx, data, policy.ChannelClipboard, policy.Metadata{Actor: user})
package agent
