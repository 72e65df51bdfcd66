package specialty

// DefaultTable returns the compiled-in synonym table.
func DefaultTable() *Table {
	return &Table{
		Synonyms: map[string][]string{
			"kitchen":         {"kitchen_remodel"},
			"kitchen remodel": {"kitchen_remodel", "cabinetry", "countertops"},
			"cabinet":         {"cabinetry"},
			"cabinets":        {"cabinetry"},
			"countertop":      {"countertops"},
			"countertops":     {"countertops"},
			"granite":         {"countertops"},
			"quartz":          {"countertops"},
			"backsplash":      {"tile"},

			"bathroom":         {"bathroom_remodel"},
			"bathroom remodel": {"bathroom_remodel", "plumbing", "tile"},
			"bath":             {"bathroom_remodel"},
			"shower":           {"bathroom_remodel", "tile"},
			"tile":             {"tile"},

			"roof":     {"roofing"},
			"roofing":  {"roofing"},
			"shingles": {"roofing"},
			"gutter":   {"gutters", "roofing"},
			"gutters":  {"gutters", "roofing"},
			"leak":     {"plumbing", "roofing"},

			"plumbing":     {"plumbing"},
			"plumber":      {"plumbing"},
			"pipe":         {"plumbing"},
			"drain":        {"plumbing"},
			"water heater": {"water_heater", "plumbing"},

			"electrical":  {"electrical"},
			"electrician": {"electrical"},
			"wiring":      {"electrical"},
			"panel":       {"electrical"},
			"outlet":      {"electrical"},
			"ev charger":  {"electrical", "ev_charger"},

			"hvac":             {"hvac"},
			"ac":               {"hvac"},
			"air conditioning": {"hvac"},
			"furnace":          {"hvac"},
			"heating":          {"hvac"},

			"paint":    {"painting"},
			"painting": {"painting"},
			"painter":  {"painting"},
			"drywall":  {"drywall"},

			"floor":    {"flooring"},
			"flooring": {"flooring"},
			"hardwood": {"flooring"},
			"laminate": {"flooring"},
			"carpet":   {"flooring"},

			"deck":        {"decking"},
			"patio":       {"decking", "concrete"},
			"fence":       {"fencing"},
			"landscaping": {"landscaping"},
			"lawn":        {"landscaping"},
			"yard":        {"landscaping"},
			"concrete":    {"concrete"},
			"driveway":    {"concrete"},

			"window":     {"windows"},
			"windows":    {"windows"},
			"door":       {"doors"},
			"doors":      {"doors"},
			"handyman":   {"handyman"},
			"demolition": {"demolition"},
			"foundation": {"foundation_repair"},
			"solar":      {"solar"},
			"remodel":    {"general_contracting"},
			"addition":   {"general_contracting"},
		},
		Categories: map[string][]string{
			"kitchen":     {"kitchen_remodel", "cabinetry", "countertops"},
			"bathroom":    {"bathroom_remodel", "plumbing", "tile"},
			"roofing":     {"roofing", "gutters"},
			"plumbing":    {"plumbing"},
			"electrical":  {"electrical"},
			"hvac":        {"hvac"},
			"painting":    {"painting", "drywall"},
			"flooring":    {"flooring"},
			"landscaping": {"landscaping"},
			"outdoor":     {"decking", "fencing", "landscaping"},
			"general":     {"general_contracting"},
			"handyman":    {"handyman"},
		},
	}
}
