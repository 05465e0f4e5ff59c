// Package resource tracks live foreign objects owned by a Futhark context.
//
// Arrays and opaque values created by the host or returned from entry
// points own memory inside the wasm module until they are explicitly
// released. The runtime records each one in a Table so that closing a
// context can name what was never released.
//
// # Handle Table
//
// The Table maps small integer handles to entries:
//
//	table := resource.NewTable()
//
//	h, err := table.Insert(resource.Entry{Type: "[]i32", Ref: ptr, Kind: resource.KindArray})
//
//	// after the foreign free succeeded
//	entry, ok := table.Remove(h)
//
// Handles of removed entries are reused.
//
// # Observers
//
// Observers see every lifecycle transition:
//
//	table.Subscribe(leakLogger)
//
//	EventCreated  - Insert
//	EventReleased - Remove
//	EventLeaked   - Close, once per entry still live
//
// # Memory Management
//
// The table never frees foreign memory. Close returns the leaked entries
// and the caller decides whether to report or reclaim them.
package resource
