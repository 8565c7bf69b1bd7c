package models

import (
	"encoding/json"
	"fmt"
)

// TopicQoS carries the QoS attributes relevant for recording. Two topics with
// the same name but different QoS are treated as distinct topics.
type TopicQoS struct {
	Reliability  string `json:"reliability" mapstructure:"reliability"`
	Durability   string `json:"durability" mapstructure:"durability"`
	Ownership    string `json:"ownership" mapstructure:"ownership"`
	HistoryDepth int32  `json:"history_depth" mapstructure:"history_depth"`
	Keyed        bool   `json:"keyed" mapstructure:"keyed"`
}

const (
	ReliabilityBestEffort = "best_effort"
	ReliabilityReliable   = "reliable"

	DurabilityVolatile  = "volatile"
	DurabilityTransient = "transient_local"

	OwnershipShared    = "shared"
	OwnershipExclusive = "exclusive"
)

// Serialize renders the QoS as the string stored in channel metadata.
// Field order is fixed by the struct, so equal QoS always serializes equally.
func (q TopicQoS) Serialize() string {
	b, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	return string(b)
}

// DdsTopic describes a topic as seen by the subscription layer.
type DdsTopic struct {
	Name     string   `json:"name"`
	TypeName string   `json:"type_name"`
	QoS      TopicQoS `json:"qos"`
}

// TopicKey identifies a topic within the recorder. It includes the QoS
// signature so name collisions with differing QoS stay distinct.
type TopicKey struct {
	Name     string
	TypeName string
	QoS      string
}

func (t DdsTopic) Key() TopicKey {
	return TopicKey{
		Name:     t.Name,
		TypeName: t.TypeName,
		QoS:      t.QoS.Serialize(),
	}
}

func (t DdsTopic) String() string {
	return fmt.Sprintf("%s (%s)", t.Name, t.TypeName)
}

func ValidateTopic(t *DdsTopic) error {
	if t == nil {
		return &ValidationError{Field: "topic", Message: "topic cannot be nil"}
	}
	if t.Name == "" {
		return &ValidationError{Field: "name", Message: "topic name is required"}
	}
	if t.TypeName == "" {
		return &ValidationError{Field: "type_name", Message: "topic type name is required"}
	}
	return nil
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}
