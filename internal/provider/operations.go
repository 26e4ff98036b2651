package provider

import (
	"slices"

	"fontlens/internal/settings"
)

// Operation names an AI request the shell can dispatch.
type Operation string

const (
	// OpAnalyzeFontFile sends a rendered specimen image of an uploaded file.
	OpAnalyzeFontFile   Operation = "analyze_font_file"
	OpAnalyzeImage      Operation = "analyze_image"
	OpAnalyzeGoogleFont Operation = "analyze_google_font"
	OpCompareFonts      Operation = "compare_fonts"
	OpSuggestPairings   Operation = "suggest_pairings"
)

var (
	remoteOnly = []settings.Mode{settings.ModeRemote}
	anyMode    = []settings.Mode{settings.ModeRemote, settings.ModeLocal}
)

// compatibility lists the modes each operation may run in. Operations whose
// payload carries image data are remote-only.
var compatibility = map[Operation][]settings.Mode{
	OpAnalyzeFontFile:   remoteOnly,
	OpAnalyzeImage:      remoteOnly,
	OpAnalyzeGoogleFont: anyMode,
	OpCompareFonts:      anyMode,
	OpSuggestPairings:   anyMode,
}

// Operations returns every known operation in a stable order.
func Operations() []Operation {
	ops := make([]Operation, 0, len(compatibility))
	for op := range compatibility {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// AllowedModes returns the modes op may run in. Unknown operations are
// remote-only.
func AllowedModes(op Operation) []settings.Mode {
	modes, ok := compatibility[op]
	if !ok {
		modes = remoteOnly
	}
	return slices.Clone(modes)
}

// RequiresRemote reports whether op must never be offered Local.
func RequiresRemote(op Operation) bool {
	return !slices.Contains(AllowedModes(op), settings.ModeLocal)
}
