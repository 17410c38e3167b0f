package domain

type Property struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	City         string `json:"city" yaml:"city"`
	BasePriceNGN int64  `json:"basePriceNGN" yaml:"basePriceNGN"`
}

// PropertySummary is the slice of a Property echoed back in quotes.
type PropertySummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

func (p Property) Summary() PropertySummary {
	return PropertySummary{ID: p.ID, Name: p.Name, City: p.City}
}
