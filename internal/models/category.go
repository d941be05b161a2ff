package models

// Category is a kind of point of interest fetched from OpenStreetMap.
type Category string

const (
	// CategoryGreenSpace covers parks, grass, forests and similar green land use.
	CategoryGreenSpace Category = "green_space"
	// CategoryBuilding covers every mapped building.
	CategoryBuilding Category = "building"
	// CategoryRecreational covers sports centres, shops and schools.
	CategoryRecreational Category = "recreational"
)

// Categories lists the categories a city run fetches.
func Categories() []Category {
	return []Category{CategoryGreenSpace, CategoryBuilding, CategoryRecreational}
}
