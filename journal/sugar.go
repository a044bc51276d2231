package journal

// MaybeAddEntry is a convenience function that evaluates if the EventType is
// enabled, and if so, records the entry produced by supplier.
//
// This is safe to call with a nil Journal, either because the value is nil,
// or because a journal obtained through NilJournal() is in use.
func MaybeAddEntry(journal Journal, evtType EventType, supplier func() interface{}) {
	if journal == nil || journal == nilj {
		return
	}
	if !evtType.Enabled() {
		return
	}
	journal.RecordEvent(evtType, supplier)
}
