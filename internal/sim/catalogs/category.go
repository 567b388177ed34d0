package catalogs

import "fmt"

// Category is the functional class of a structure.
type Category uint8

const (
	Residential Category = iota
	Commercial
	Industrial
	Power
	Water
	Food
	Eco
	Park
	Road

	numCategories
)

// All lists categories in declaration order.
var All = [numCategories]Category{Residential, Commercial, Industrial, Power, Water, Food, Eco, Park, Road}

var categoryNames = [numCategories]string{
	Residential: "residential",
	Commercial:  "commercial",
	Industrial:  "industrial",
	Power:       "power",
	Water:       "water",
	Food:        "food",
	Eco:         "eco",
	Park:        "park",
	Road:        "road",
}

func (c Category) String() string {
	if c >= numCategories {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

func (c Category) Valid() bool { return c < numCategories }

// Real categories count toward the zoning mix and infrastructure ratios.
func (c Category) Real() bool {
	switch c {
	case Residential, Commercial, Industrial, Park:
		return true
	}
	return false
}

// Infrastructure categories are checked against per-resource ratios.
func (c Category) Infrastructure() bool {
	switch c {
	case Power, Water, Food, Eco:
		return true
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	for i, n := range categoryNames {
		if n == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
