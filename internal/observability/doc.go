// Package observability provides event logging, metrics calculation, and
// alerting for Command Center. It uses structured JSON Lines (JSONL) for
// event persistence and derives metrics on-demand from the event log.
package observability
