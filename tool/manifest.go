package tool

// Field type literals used by tool input contracts.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
)

// FormatURL marks a string field that must hold an absolute URL.
const FormatURL = "url"

// FieldSpec describes one input field of a tool contract.
type FieldSpec struct {
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Format      string   `json:"format,omitempty"`
	NonEmpty    bool     `json:"non_empty,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
}

// Bound returns a pointer to v for use as FieldSpec.Min or FieldSpec.Max.
func Bound(v float64) *float64 {
	return &v
}
