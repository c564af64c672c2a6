package checklist

// Item group constants
const (
	GroupPPE            = "ppe"
	GroupWorkConditions = "work_conditions"
)

// Item is a single safety checklist entry. Critical items block work start;
// non-critical items are informational.
type Item struct {
	ID       string `json:"id"`
	Group    string `json:"group"`
	Label    string `json:"label"`
	Critical bool   `json:"critical"`
}

// DefaultItems is the standard pre-work attestation catalog for aerial and
// underground fiber crews.
var DefaultItems = []Item{
	{ID: "ppe_hard_hat", Group: GroupPPE, Label: "Hard hat worn", Critical: true},
	{ID: "ppe_safety_glasses", Group: GroupPPE, Label: "Safety glasses worn", Critical: true},
	{ID: "ppe_gloves", Group: GroupPPE, Label: "Work gloves available", Critical: true},
	{ID: "ppe_hi_vis", Group: GroupPPE, Label: "Hi-vis vest worn", Critical: true},
	{ID: "ppe_boots", Group: GroupPPE, Label: "Steel-toe boots worn", Critical: false},
	{ID: "wc_traffic_control", Group: GroupWorkConditions, Label: "Traffic control in place", Critical: true},
	{ID: "wc_overhead_power", Group: GroupWorkConditions, Label: "Overhead power clearance verified", Critical: true},
	{ID: "wc_weather", Group: GroupWorkConditions, Label: "Weather conditions acceptable", Critical: false},
	{ID: "wc_ladder_inspected", Group: GroupWorkConditions, Label: "Ladder/bucket inspected", Critical: false},
}

// CriticalItemIDs returns the ids of all critical items in the catalog
func CriticalItemIDs(items []Item) []string {
	var ids []string
	for _, item := range items {
		if item.Critical {
			ids = append(ids, item.ID)
		}
	}
	return ids
}
