package recorder

import (
	"encoding/json"
)

// DynamicType is one serialized type discovery entry.
type DynamicType struct {
	Name           string `json:"name"`
	TypeIdentifier []byte `json:"type_identifier"`
	TypeObject     []byte `json:"type_object"`
}

// DynamicTypesCollection is the ordered sequence of types discovered during a
// recording, appended once per newly observed type. It is serialized and
// written as a single attachment when a file closes.
type DynamicTypesCollection struct {
	types []DynamicType
}

func NewDynamicTypesCollection() *DynamicTypesCollection {
	return &DynamicTypesCollection{}
}

func (c *DynamicTypesCollection) Add(name string, typeIdentifier, typeObject []byte) {
	c.types = append(c.types, DynamicType{
		Name:           name,
		TypeIdentifier: typeIdentifier,
		TypeObject:     typeObject,
	})
}

func (c *DynamicTypesCollection) Len() int {
	return len(c.types)
}

func (c *DynamicTypesCollection) Serialize() ([]byte, error) {
	return json.Marshal(c.types)
}

// ParseDynamicTypes decodes a serialized collection, as read back from the
// dynamic_types attachment.
func ParseDynamicTypes(data []byte) ([]DynamicType, error) {
	var types []DynamicType
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, err
	}
	return types, nil
}
