// Package hostadapter is the reference HostAdapter run by saiverse-host.
//
// It has no simulation of its own. While a persona visits, every message in
// its building is appended to persona_history; when the persona departs the
// history is serialized as JSON and sent to the owner as a memory transfer.
// The exported entries are deleted only when the owner answers with status
// ok; a rejected export leaves them in place to be sent again.
// Inbound transfers are verified by memsync and stored in persona_memories.
package hostadapter
