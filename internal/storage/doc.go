// Package storage provides a minimal persistence layer used by warden.
//
// It currently supports:
//   - Restart attempt audit records (append + recent window)
//   - Notifier dedup state (to survive restarts)
package storage
