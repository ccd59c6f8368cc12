// Package dedupe provides a bounded, thread-safe set of recently seen keys.
//
// The host orchestrator marks every handled event id in a Ring. Redelivered
// events (for example after a full replay on reconnect) are recognized and
// only re-acknowledged. The ring forgets the oldest id once capacity is
// reached, so memory stays constant no matter how long the process runs.
//
//	ring := dedupe.New(2048)
//	if ring.CheckAndMark(eventID) {
//	    // duplicate
//	}
package dedupe
