// Package state provides the key-value persistence backends the catalog,
// the auto-sync settings and the notification bus are stored in.
package state

// Compile-time interface compliance checks.
var _ Store = (*Memory)(nil)
var _ Store = (*FileStore)(nil)
var _ Store = (*BoltStore)(nil)
var _ Store = (*BadgerStore)(nil)
