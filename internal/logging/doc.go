// Package logging provides structured, context-aware logging for swarmd.
//
// It wraps zap with methods that pull correlation fields (task ID, squad,
// attempt counter) out of the context so that every log line emitted while
// working on a task lineage carries the same identifiers. An optional OTEL
// bridge core mirrors log records to an OpenTelemetry LoggerProvider.
package logging
