package zmqstream

// ExportHandleSequenceForTest exposes the unexported handleSequence
// method so external tests can exercise the 33rd-byte label filter
// without spinning up a real ZMQ connection.
func ExportHandleSequenceForTest(s *Subscriber) func(Topic, [][]byte) {
	return s.handleSequence
}
