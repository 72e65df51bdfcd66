package specialty

import "strings"

// Scale is the inferred operating size of a provider.
type Scale string

// Provider scales, smallest first.
const (
	ScaleSolo          Scale = "solo"
	ScaleOwnerOperator Scale = "owner_operator"
	ScaleSmallBusiness Scale = "small_business"
	ScaleRegional      Scale = "regional"
)

// Review-count thresholds used when no keyword decides the scale.
const (
	soloMaxReviews          = 20
	ownerOperatorMaxReviews = 50
	smallBusinessMaxReviews = 200
)

// scaleKeywords are checked in order; the first scale with a whole-word hit
// in the tags or name wins.
var scaleKeywords = []struct {
	scale    Scale
	keywords []string
}{
	{ScaleRegional, []string{"regional", "statewide", "franchise", "multi location", "locations", "corporation", "enterprise"}},
	{ScaleOwnerOperator, []string{"owner operated", "owner operator", "family owned", "family business"}},
	{ScaleSolo, []string{"handyman", "freelance", "independent", "sole proprietor", "self employed", "one man"}},
	{ScaleSmallBusiness, []string{"llc", "sons", "brothers", "bros", "crew", "team"}},
}

// InferProviderScale classifies a provider. An explicit keyword in rawTags or
// name wins; otherwise reviewCount decides. Always returns a valid Scale.
func InferProviderScale(rawTags []string, reviewCount int, name string) Scale {
	parts := make([]string, 0, len(rawTags)+1)
	for _, t := range rawTags {
		parts = append(parts, Fold(t))
	}
	parts = append(parts, Fold(name))
	text := " " + strings.Join(parts, " ") + " "

	for _, sk := range scaleKeywords {
		for _, kw := range sk.keywords {
			if strings.Contains(text, " "+kw+" ") {
				return sk.scale
			}
		}
	}

	switch {
	case reviewCount < soloMaxReviews:
		return ScaleSolo
	case reviewCount < ownerOperatorMaxReviews:
		return ScaleOwnerOperator
	case reviewCount < smallBusinessMaxReviews:
		return ScaleSmallBusiness
	default:
		return ScaleRegional
	}
}
