package plugin

// Kind identifies what a plugin contributes to the host.
type Kind string

// Plugin kinds supported by the system.
const (
	KindTool          Kind = "tool"
	KindUIExtension   Kind = "ui-extension"
	KindAPIEndpoint   Kind = "api-endpoint"
	KindDataProcessor Kind = "data-processor"
	KindIntegration   Kind = "integration"
	KindTheme         Kind = "theme"
	KindLanguageModel Kind = "language-model"
	KindCustom        Kind = "custom"
)

// Kinds returns all valid plugin kinds.
func Kinds() []Kind {
	return []Kind{
		KindTool,
		KindUIExtension,
		KindAPIEndpoint,
		KindDataProcessor,
		KindIntegration,
		KindTheme,
		KindLanguageModel,
		KindCustom,
	}
}

// Valid reports whether k is a known plugin kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTool, KindUIExtension, KindAPIEndpoint, KindDataProcessor,
		KindIntegration, KindTheme, KindLanguageModel, KindCustom:
		return true
	default:
		return false
	}
}
