// Package storage is the persistence layer for the reminder bot.
//
// It owns:
//   - Users and their reminder settings (max delay, sequential default)
//   - Schedules (wall-clock trigger times, soft-deleted on removal)
//   - Reminders and their lifecycle state machine, including the
//     transactional "processing" claim used by sequential continuation
//   - Confirmations (append-only audit trail)
//   - Message templates and quizzes
//
// The store is the single source of truth for reminder status; in-memory
// timers elsewhere are a disposable cache of intent.
package storage
