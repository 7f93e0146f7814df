// Package notify broadcasts deployment lifecycle events.
//
// Every deploy, rollback, canary decision and backup emits an Event. The
// LogNotifier puts it in the structured log; the WebhookNotifier posts it
// to a configured endpoint with retries; Multi fans out to both. Event
// delivery is best effort and never blocks or fails the operation that
// raised it.
package notify
