// Package core provides the import pipeline for service-order spreadsheets.
//
// This package holds all domain logic independent of any transport or
// storage. It can be driven by the web handlers, a CLI, or tests with an
// in-memory store.
//
// # Architecture
//
// One import run flows through five stages:
//
//   - DateNormalizer: turns serial numbers, typed dates and text dates into
//     calendar dates within business bounds.
//   - RecordValidator: checks each row's required fields, status code and
//     totals, collecting every error; ReportBuilder aggregates the outcomes.
//   - EditRegistry: loads the edit history of manually corrected orders once
//     per run into an immutable RegistrySnapshot.
//   - Reconciler: partitions each valid order into new, fully protected or
//     merged, merging field by field against the protected record.
//   - UpsertCoordinator: writes new orders by upsert and merged orders by id
//     in fixed-size chunks, isolating chunk failures.
//
// [Service.Import] ties the stages together and streams rows from a
// [RowSource] so the full batch is never held in memory.
//
// # Edit Protection
//
// An operator who corrects an order in the application marks it as manually
// edited, optionally naming the fields to protect:
//
//	manually_edited = true, protected_fields = {}                  -> never overwritten
//	manually_edited = true, protected_fields = {responsible_mechanic} -> merged
//	manually_edited = false                                        -> overwritten
//
// # Error Handling
//
// Row rejections carry a machine-readable [Reason]. Run-level failures are
// sentinel errors ([ErrRegistryLoad], [ErrTooManyImports], [ErrMissingColumns])
// and are mapped to coded user messages by [MapError]:
//
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
//   - VAL001-VAL005: Validation errors (dates, numbers, columns, status)
//   - FILE001-FILE004: File errors (size, format, sheet)
//   - IMP001-IMP005: Import errors (registry, concurrency, cancellation)
package core
