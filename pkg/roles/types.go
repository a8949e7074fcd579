package roles

// Submodel is a hardware variant of an STB class.
type Submodel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FindSubmodel returns the index of the submodel whose ID or Name matches,
// or 0 when nothing matches.
func FindSubmodel(list []Submodel, name string) int {
	for i, s := range list {
		if s.ID == name || s.Name == name {
			return i
		}
	}
	return 0
}

// SubmodelAt returns the submodel at index i, or the zero Submodel when the
// index is out of range.
func SubmodelAt(list []Submodel, i int) Submodel {
	if i < 0 || i >= len(list) {
		return Submodel{}
	}
	return list[i]
}
