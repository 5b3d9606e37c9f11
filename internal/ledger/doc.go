// Package ledger records pipeline runs and per-stage outcomes in SQLite so
// operators can audit what ran for each subject and how it finished.
package ledger
