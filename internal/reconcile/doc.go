// ABOUTME: Package documentation for the reconcile package
// ABOUTME: Describes the background detach reconciliation sweep

// Package reconcile runs the background sweep that retries leaked block
// detaches. A detach that fails during a message exchange is queued by the
// lifecycle coordinator; the sweeper drains that queue on a cron schedule
// so stranded attachments eventually resolve without involving any request.
package reconcile
