// Package chat implements the support-chat mutations and reads.
//
// Every mutation checks the caller's identity and role, validates the
// request, writes to the store and only then publishes one event to the
// room's hub. A failed write publishes nothing. Reads (History, Threads)
// never publish.
//
// Errors are typed so transports can map them: ErrUnauthenticated,
// ErrForbidden, *ValidationError, ErrNotFound, ErrDuplicate and *StoreError.
package chat
