// Package memsync moves persona memory across the gateway in checksummed chunks.
//
// A transfer is three message kinds sharing a transfer_id:
//
//	memory_sync_initiate  total_size, total_chunks, sha256 checksum
//	memory_sync_chunk     base64 data, repeated total_chunks times
//	memory_sync_complete  closes the transfer
//
// Manager is the receiving side. It answers an accepted initiate with
// memory_sync_ack and every terminal state with memory_sync_complete whose
// status is "ok" or "error" plus a reason. Chunks are acknowledged only by
// silence. Failed transfers are discarded without persisting anything.
//
// Exporter is the sending side used when a visiting persona departs.
package memsync
