package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// Priority bands, lower is sooner.
const (
	BandEmergency      = 0
	BandInfrastructure = 10
	BandBuilding       = 20
)

// Yield is what a single structure adds to the resource ledger.
type Yield struct {
	Produces   [3]int `json:"produces"` // power, water, food
	Consumes   [3]int `json:"consumes"`
	Population int    `json:"population"`
}

type ModelDef struct {
	Key       string   `json:"key"`
	Category  Category `json:"category"`
	Footprint [2]int   `json:"footprint"`
	Yield     Yield    `json:"yield"`
}

type CategoryDef struct {
	Category Category `json:"category"`
	Models   []string `json:"models"`
	Band     int      `json:"band"`
	// Orientations is the number of quarter turns a structure may take (1 = fixed).
	Orientations int      `json:"orientations"`
	Names        []string `json:"names"`
	Purpose      string   `json:"purpose"`
}

var categories = [numCategories]CategoryDef{
	Residential: {
		Models:       []string{"building_A", "building_B", "building_C", "building_D"},
		Band:         BandBuilding,
		Orientations: 4,
		Names: []string{"Sunrise Apartments", "Horizon Heights", "Nova Living", "Stellar Residence", "Cosmic Condos",
			"Unity Housing", "Pioneer Homes", "Settlement Quarters", "Colony Dwellings", "New Earth Flats"},
		Purpose: "Housing for colonists and their families",
	},
	Commercial: {
		Models:       []string{"building_E", "building_F"},
		Band:         BandBuilding,
		Orientations: 4,
		Names:        []string{"Trading Post Alpha", "Market Hub", "Commerce Center", "Supply Depot", "Merchant Plaza", "Exchange Station"},
		Purpose:      "Trade and commerce activities",
	},
	Industrial: {
		Models:       []string{"building_G", "building_H"},
		Band:         BandBuilding,
		Orientations: 4,
		Names:        []string{"Fabrication Plant", "Processing Facility", "Manufacturing Hub", "Assembly Works", "Production Center"},
		Purpose:      "Manufacturing and resource processing",
	},
	Power: {
		Models:       []string{"solarpanel"},
		Band:         BandInfrastructure,
		Orientations: 1,
		Names:        []string{"Solar Array", "Power Station", "Energy Grid Node", "Photovoltaic Farm"},
		Purpose:      "Generating electricity for the colony",
	},
	Water: {
		Models:       []string{"water_storage"},
		Band:         BandInfrastructure,
		Orientations: 1,
		Names:        []string{"Water Reservoir", "Purification Station", "Aqua Storage", "Hydro Tank"},
		Purpose:      "Storing and purifying water supply",
	},
	Food: {
		Models:       []string{"space_farm_small", "space_farm_large"},
		Band:         BandInfrastructure,
		Orientations: 4,
		Names:        []string{"Hydroponic Farm", "Bio-Agriculture Unit", "Food Production", "Greenhouse Module"},
		Purpose:      "Growing food for colony sustenance",
	},
	Eco: {
		Models:       []string{"eco_module"},
		Band:         BandInfrastructure,
		Orientations: 1,
		Names:        []string{"Life Support Module", "Oxygen Generator", "Atmosphere Processor", "Eco Recycler"},
		Purpose:      "Maintaining breathable atmosphere",
	},
	Park: {
		Models:       []string{"tree_A", "tree_B", "tree_C", "bush_A", "bush_B"},
		Band:         BandBuilding,
		Orientations: 4,
		Names:        []string{"Central Green", "Memorial Grove", "Starlight Park", "Pioneer Garden"},
		Purpose:      "Recreation and oxygen production",
	},
	Road: {
		Models:       []string{"road_straight", "road_corner"},
		Band:         BandInfrastructure,
		Orientations: 4,
		Names:        []string{"Colony Road"},
		Purpose:      "Transportation infrastructure",
	},
}

var models = map[string]ModelDef{
	"building_A": {Category: Residential, Yield: Yield{Consumes: [3]int{3, 4, 3}, Population: 50}},
	"building_B": {Category: Residential, Yield: Yield{Consumes: [3]int{3, 4, 3}, Population: 50}},
	"building_C": {Category: Residential, Yield: Yield{Consumes: [3]int{3, 4, 3}, Population: 50}},
	"building_D": {Category: Residential, Yield: Yield{Consumes: [3]int{3, 4, 3}, Population: 50}},

	"building_E": {Category: Commercial, Yield: Yield{Consumes: [3]int{5, 2, 0}}},
	"building_F": {Category: Commercial, Yield: Yield{Consumes: [3]int{5, 2, 0}}},

	"building_G": {Category: Industrial, Yield: Yield{Consumes: [3]int{8, 3, 0}}},
	"building_H": {Category: Industrial, Yield: Yield{Consumes: [3]int{8, 3, 0}}},

	"solarpanel":       {Category: Power, Yield: Yield{Produces: [3]int{10, 0, 0}}},
	"water_storage":    {Category: Water, Yield: Yield{Produces: [3]int{0, 50, 0}}},
	"space_farm_small": {Category: Food, Yield: Yield{Produces: [3]int{0, 0, 20}}},
	"space_farm_large": {Category: Food, Footprint: [2]int{2, 2}, Yield: Yield{Produces: [3]int{0, 0, 20}}},
	"eco_module":       {Category: Eco, Yield: Yield{Produces: [3]int{0, 5, 10}}},

	"tree_A": {Category: Park},
	"tree_B": {Category: Park},
	"tree_C": {Category: Park},
	"bush_A": {Category: Park},
	"bush_B": {Category: Park},

	"road_straight": {Category: Road},
	"road_corner":   {Category: Road},
}

func init() {
	for i := range categories {
		categories[i].Category = Category(i)
	}
	for k, m := range models {
		m.Key = k
		if m.Footprint == ([2]int{}) {
			m.Footprint = [2]int{1, 1}
		}
		models[k] = m
	}
}

// Def returns the table entry for a category. Unknown categories get a zero def.
func Def(c Category) CategoryDef {
	if !c.Valid() {
		return CategoryDef{Category: c}
	}
	return categories[c]
}

func Band(c Category) int { return Def(c).Band }

// Model looks up a model by key.
func Model(key string) (ModelDef, bool) {
	m, ok := models[key]
	return m, ok
}

// Footprint returns the model's footprint, 1x1 for unknown keys.
func Footprint(key string) [2]int {
	if m, ok := models[key]; ok {
		return m.Footprint
	}
	return [2]int{1, 1}
}

// YieldOf looks up the per-model contribution. Unknown keys fall back to the
// category's first model so externally synced structures still count.
func YieldOf(c Category, modelKey string) Yield {
	if m, ok := models[modelKey]; ok && m.Category == c {
		return m.Yield
	}
	d := Def(c)
	if len(d.Models) == 0 {
		return Yield{}
	}
	return models[d.Models[0]].Yield
}

// PickModel picks a visual variant for the category.
func PickModel(c Category, r *rand.Rand) string {
	ms := Def(c).Models
	if len(ms) == 0 {
		return ""
	}
	if r == nil || len(ms) == 1 {
		return ms[0]
	}
	return ms[r.Intn(len(ms))]
}

// PickOrientation picks a quarter turn allowed for the category.
func PickOrientation(c Category, r *rand.Rand) int {
	n := Def(c).Orientations
	if n <= 1 || r == nil {
		return 0
	}
	return r.Intn(n)
}

// Description is the generated part of a structure's metadata.
type Description struct {
	Name       string
	Purpose    string
	Population int
	Capacity   string
}

// Describe generates a display name and capacity figures for a newly placed structure.
func Describe(c Category, r *rand.Rand) Description {
	d := Def(c)
	out := Description{Purpose: d.Purpose}
	if out.Purpose == "" {
		out.Purpose = "Colony infrastructure"
	}
	names := d.Names
	if len(names) == 0 {
		names = categories[Residential].Names
	}
	out.Name = names[intn(r, len(names))]

	switch c {
	case Residential:
		out.Population = 50 + intn(r, 150)
		out.Capacity = fmt.Sprintf("%d residents", out.Population)
	case Commercial:
		out.Population = 10 + intn(r, 30)
		out.Capacity = fmt.Sprintf("%d workers, serves ~%d customers/day", out.Population, out.Population*10)
	case Industrial:
		out.Population = 20 + intn(r, 50)
		out.Capacity = fmt.Sprintf("%d workers", out.Population)
	case Power:
		out.Capacity = fmt.Sprintf("%d kW output", 200+intn(r, 500))
	case Water:
		out.Capacity = fmt.Sprintf("%s liters storage", commas(10000+intn(r, 50000)))
	case Food:
		tons := 2 + intn(r, 10)
		out.Population = 5 + intn(r, 15)
		out.Capacity = fmt.Sprintf("%d tons/month, %d farmers", tons, out.Population)
	case Eco:
		out.Capacity = fmt.Sprintf("Supports %d colonists", 100+intn(r, 200))
	case Park:
		out.Capacity = "Open green space"
	case Road:
		out.Capacity = "Two-lane artery"
	}
	return out
}

func intn(r *rand.Rand, n int) int {
	if r == nil || n <= 1 {
		return 0
	}
	return r.Intn(n)
}

func commas(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Digest fingerprints the tables so snapshots can tell which catalog produced them.
func Digest() string {
	keys := make([]string, 0, len(models))
	for k := range models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ms := make([]ModelDef, 0, len(keys))
	for _, k := range keys {
		ms = append(ms, models[k])
	}
	raw, _ := json.Marshal(struct {
		Categories [numCategories]CategoryDef `json:"categories"`
		Models     []ModelDef                 `json:"models"`
		Phrases    [numCategories][]string    `json:"phrases"`
	}{categories, ms, phrases})
	return sha256Hex(raw)
}
