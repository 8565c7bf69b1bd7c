package output

import (
	"github.com/foxglove/mcap/go/mcap"
)

// Estimated on-disk sizes of MCAP records: opcode (1 byte) plus record length
// (8 bytes) plus the body, where strings and byte arrays carry a 4-byte length
// prefix. Chunk and index records added by the container writer are covered by
// the file overhead constant and the safety margin.
const (
	recordOverhead = 9

	// fileOverhead accounts for the magic bytes at both ends, the header
	// record, the footer, and the summary section bookkeeping.
	fileOverhead = 4096
)

func messageSize(dataLen uint64) uint64 {
	return recordOverhead + 2 + 4 + 8 + 8 + dataLen
}

func schemaSize(s *mcap.Schema) uint64 {
	return recordOverhead + 2 +
		4 + uint64(len(s.Name)) +
		4 + uint64(len(s.Encoding)) +
		4 + uint64(len(s.Data))
}

func channelSize(c *mcap.Channel) uint64 {
	size := uint64(recordOverhead + 2 + 2 +
		4 + len(c.Topic) +
		4 + len(c.MessageEncoding) +
		4)
	for k, v := range c.Metadata {
		size += 4 + uint64(len(k)) + 4 + uint64(len(v))
	}
	return size
}

func metadataSize(m *mcap.Metadata) uint64 {
	size := uint64(recordOverhead + 4 + len(m.Name) + 4)
	for k, v := range m.Metadata {
		size += 4 + uint64(len(k)) + 4 + uint64(len(v))
	}
	return size
}

func attachmentSize(name, mediaType string, dataLen uint64) uint64 {
	return recordOverhead + 8 + 8 +
		4 + uint64(len(name)) +
		4 + uint64(len(mediaType)) +
		8 + dataLen + 4
}
