// Package queue persists enrichment jobs in SQLite and hands them to
// workers one category at a time. Claims are single atomic updates, so
// concurrent workers on the same category never double-process an item, and
// every pipeline stage is reflected in the item's status for observers.
package queue
