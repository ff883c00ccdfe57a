package chatcache

// Stats derives CacheStats from the current entries. It has no side effects.
func (s *Store) Stats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st CacheStats
	st.ConversationCount = len(s.entries)
	for _, e := range s.entries {
		st.TotalMessages += len(e.messages)
		if e.status == StatusLoaded {
			st.LoadedCount++
		}
	}
	return st
}
