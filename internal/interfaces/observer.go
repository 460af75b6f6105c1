package interfaces

// Observer receives per-request events from the dispatch runner
type Observer interface {
	// ObserveCompletion is called once for every request the backend
	// finished, with the class of the submitter that allocated it
	ObserveCompletion(dir Direction, class int, bytes, latencyNs uint64, success bool)

	// ObserveQueueDepth is called with the number of allocated requests
	ObserveQueueDepth(depth uint32)
}
