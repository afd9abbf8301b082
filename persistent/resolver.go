package persistent

// ConflictResolver reconciles an MVCC conflict (spec §4.3): when a
// version loaded from disk targets an object some thread has checked
// out, the core offers the resolver the object's pre-transaction shared
// state, the thread's own working state, and the newly committed state.
// A returned state is adopted as the object's new shared state; ok=false
// signals the resolver cannot reconcile the three states, which the
// caller treats as a read conflict.
type ConflictResolver interface {
	Resolve(old, saved, committed map[string]any) (resolved map[string]any, ok bool)
}
