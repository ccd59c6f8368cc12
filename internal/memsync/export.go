// ABOUTME: Outbound memory transfers for departing visitors
// ABOUTME: Splits a buffer into base64 chunks framed by initiate and complete

package memsync

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/maha0525/SAIVerse-sub002/internal/protocol"
)

// Chunk size bounds for outbound transfers.
const (
	DefaultChunkSize = 64 * 1024
	MinChunkSize     = 1024
)

// ExportTarget addresses an outbound transfer.
type ExportTarget struct {
	Visitor
	TargetUserID string
	BuildingID   string
	CityID       string
}

// Exporter builds the command sequence of an outbound transfer.
type Exporter struct {
	chunkSize int
	newID     func() string
}

// NewExporter returns an Exporter. Zero selects DefaultChunkSize; smaller
// values are raised to MinChunkSize.
func NewExporter(chunkSize int) *Exporter {
	switch {
	case chunkSize == 0:
		chunkSize = DefaultChunkSize
	case chunkSize < MinChunkSize:
		chunkSize = MinChunkSize
	}
	return &Exporter{chunkSize: chunkSize, newID: uuid.NewString}
}

// ChunkSize returns the effective chunk size.
func (e *Exporter) ChunkSize() int {
	return e.chunkSize
}

// Export returns initiate, one chunk per slice of data, then complete.
// Empty data still produces a single empty chunk.
func (e *Exporter) Export(to ExportTarget, data []byte) (string, []protocol.Command) {
	id := e.newID()
	sum := sha256.Sum256(data)

	total := (len(data) + e.chunkSize - 1) / e.chunkSize
	if total == 0 {
		total = 1
	}

	cmds := make([]protocol.Command, 0, total+2)
	cmds = append(cmds, protocol.Command{
		Type: protocol.TypeMemorySyncInitiate,
		Payload: protocol.MemorySyncInitiate{
			TransferID:    id,
			DiscordUserID: to.DiscordUserID,
			PersonaID:     to.PersonaID,
			OwnerUserID:   to.OwnerUserID,
			TotalSize:     protocol.NewFlexInt(int64(len(data))),
			TotalChunks:   protocol.NewFlexInt(int64(total)),
			Checksum:      hex.EncodeToString(sum[:]),
			BuildingID:    to.BuildingID,
			CityID:        to.CityID,
			TargetUserID:  to.TargetUserID,
		},
	})

	for i := 0; i < total; i++ {
		start := i * e.chunkSize
		end := min(start+e.chunkSize, len(data))
		cmds = append(cmds, protocol.Command{
			Type: protocol.TypeMemorySyncChunk,
			Payload: protocol.MemorySyncChunk{
				TransferID:    id,
				Index:         i,
				Data:          base64.StdEncoding.EncodeToString(data[start:end]),
				DiscordUserID: to.DiscordUserID,
				PersonaID:     to.PersonaID,
				TargetUserID:  to.TargetUserID,
			},
		})
	}

	cmds = append(cmds, protocol.Command{
		Type: protocol.TypeMemorySyncComplete,
		Payload: protocol.MemorySyncComplete{
			TransferID:    id,
			DiscordUserID: to.DiscordUserID,
			PersonaID:     to.PersonaID,
			TargetUserID:  to.TargetUserID,
		},
	})
	return id, cmds
}
