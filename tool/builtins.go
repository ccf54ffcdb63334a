package tool

// BuiltinConfig configures the built-in tool set.
type BuiltinConfig struct {
	Fetch     FetchConfig
	Summarize SummarizeConfig
}

// BuiltinDescriptors returns the built-in tools in registration order.
func BuiltinDescriptors(cfg BuiltinConfig) []Descriptor {
	return []Descriptor{
		NewFetchURLTool(cfg.Fetch),
		NewSummarizeTool(cfg.Summarize),
	}
}

// NewBuiltinRegistry returns a registry holding exactly the built-in tools.
func NewBuiltinRegistry(cfg BuiltinConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, desc := range BuiltinDescriptors(cfg) {
		if _, err := reg.Register(desc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
