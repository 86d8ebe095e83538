// Package document defines the records a run emits: RunStart,
// EventDescriptor, Event and RunStop.
//
// This package contains value types only. The engine, harness and CLI import
// document; document imports nothing internal. Documents are immutable once
// emitted: constructors copy caller maps so later mutation by a device or a
// plan cannot change a document a subscriber already holds.
//
// Key design constraints:
//   - Every document carries a uid (UUIDv7 in production, fixed in tests)
//   - Time is wall-clock; ordering within a run comes from emission order
//     and Event.SeqNum, never from timestamps
//   - All JSON tags use snake_case
//   - MarshalCanonical is the only serialization used for golden comparison
package document
