package sources

type BuiltInSourceType = string

const (
	InlineSourceType BuiltInSourceType = "inline"
	HTTPSourceType   BuiltInSourceType = "http"
)

// RegisterBuiltins registers all built-in providers by default
// or only the specific ones if keys are provided
func RegisterBuiltins(r *Registry, types ...BuiltInSourceType) {
	if len(types) == 0 {
		types = []BuiltInSourceType{InlineSourceType, HTTPSourceType}
	}

	for _, key := range types {
		switch key {
		case InlineSourceType:
			RegisterInline(r)
		case HTTPSourceType:
			RegisterHTTP(r)
		}
	}
}
