package recorder

import (
	"time"

	"ddsrecorder/internal/payload"
)

// Sample is a received data sample as handed over by the subscription layer.
// The payload reference is owned by the handler from the moment AddData is
// called until the sample is written or discarded.
type Sample struct {
	Payload        *payload.Payload
	PublishTime    time.Time
	ReceptionTime  time.Time
	WriterGUID     string
	SequenceNumber uint64
}

// message is a sample bound to a channel, queued for the container writer.
// The sequence number is assigned by the handler and is strictly increasing
// for the handler's lifetime; it does not reset on file rotation.
type message struct {
	channelID   uint16
	sequence    uint32
	logTime     uint64
	publishTime uint64
	payload     *payload.Payload
}

func (m *message) release() {
	if m.payload != nil {
		m.payload.Release()
		m.payload = nil
	}
}
