package model

// DependencyEdge is one directed service call relation with the number of
// calls observed. Edge lists may repeat a (Parent, Child) pair.
type DependencyEdge struct {
	Parent    string `json:"parent"`
	Child     string `json:"child"`
	CallCount int64  `json:"callCount"`
}

// DependenciesState is the dependency slice of the store.
type DependenciesState struct {
	Dependencies []DependencyEdge
	Loading      bool
	Error        error
}
