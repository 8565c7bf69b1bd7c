package models

import (
	"time"
)

// SampleEnvelope is the wire format in which the sample source hands serialized
// payloads to the recorder. Data is the opaque serialized sample, carried
// verbatim into the output file.
type SampleEnvelope struct {
	ID             string    `json:"id"`
	Topic          DdsTopic  `json:"topic"`
	WriterGUID     string    `json:"writer_guid"`
	SequenceNumber uint64    `json:"sequence_number"`
	PublishTime    time.Time `json:"publish_time"`
	Data           []byte    `json:"data"`
}

func ValidateSampleEnvelope(msg *SampleEnvelope) error {
	if msg == nil {
		return &ValidationError{Field: "envelope", Message: "sample envelope cannot be nil"}
	}
	if err := ValidateTopic(&msg.Topic); err != nil {
		return err
	}
	if msg.PublishTime.IsZero() {
		return &ValidationError{Field: "publish_time", Message: "publish time is required"}
	}
	if len(msg.Data) == 0 {
		return &ValidationError{Field: "data", Message: "sample data cannot be empty"}
	}
	return nil
}

// TypeAnnouncement is the wire format in which the schema source announces a
// newly discovered type. Schema holds the generated schema text (IDL or msg),
// TypeIdentifier and TypeObject the serialized DDS type discovery blobs.
type TypeAnnouncement struct {
	Name           string `json:"name"`
	Encoding       string `json:"encoding"`
	Schema         []byte `json:"schema"`
	TypeIdentifier []byte `json:"type_identifier"`
	TypeObject     []byte `json:"type_object"`
}

const (
	SchemaEncodingIDL     = "omgidl"
	SchemaEncodingROS2Msg = "ros2msg"
)

func ValidateTypeAnnouncement(msg *TypeAnnouncement) error {
	if msg == nil {
		return &ValidationError{Field: "announcement", Message: "type announcement cannot be nil"}
	}
	if msg.Name == "" {
		return &ValidationError{Field: "name", Message: "type name is required"}
	}
	if msg.Encoding == "" {
		return &ValidationError{Field: "encoding", Message: "schema encoding is required"}
	}
	return nil
}
