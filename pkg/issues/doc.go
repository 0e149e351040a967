// Package issues derives higher level operational problems from a probe
// snapshot and recent consensus client logs.
//
// Five kinds are detected. App hash mismatch and state corruption come
// from the last LogLines journal lines of the consensus unit; corruption
// needs both a "panic" and a "corruption" line in that window. Peer
// isolation compares the consensus peer count against IsolationPeers,
// memory leak flags any node process above MemoryLimitGB, and critical
// disk uses the host report once it has been measured.
//
// A Detector keeps no state. Every call rebuilds the IssueSet, so an issue
// clears as soon as the condition is gone:
//
//	detector := issues.NewDetector(issues.DefaultConfig(), journal)
//	set := detector.Detect(ctx, snapshot)
//	if set[types.IssuePeerIsolation] {
//		// ...
//	}
//
// A journal that cannot be read is logged and only the log based kinds
// are skipped.
package issues
