// Package orchestrator dispatches events from the bot to the host simulation.
//
// Events are matched on protocol.EventKind with an exhaustive switch. Every
// event carrying an event_id is acked exactly once per delivery, and ids
// already seen are acked again without reaching the HostAdapter, so bot
// redeliveries are harmless.
//
// Human messages pass through PermissionPolicy first: the channel host is
// always allowed, then a shared role, then an open channel; otherwise an
// invitation from InvitationRegistry is required. Denials are reported back
// with permission_denied. Messages authored by a registered visitor skip the
// policy and go to HandleRemotePersonaMessage.
package orchestrator
