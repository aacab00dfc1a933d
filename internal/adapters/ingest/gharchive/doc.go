// Package gharchive turns a GH Archive time window into one ordered stream of events
//
// Design choices:
// - Enumerate hourly archive ids lazily from a date range; no I/O until the first pull.
// - One archive open at a time; gzip and line framing are incremental, never a whole file in memory.
// - Every transport open and every read is bounded by the I/O timeout.
// - Malformed lines are counted and skipped by default; transport and gzip failures end the stream.
// - Keep payload as raw JSON; legacy (pre-2015) shapes are folded into the modern Event.
package gharchive
