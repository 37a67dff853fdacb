package depgraph

// GraphType is a layout the dependency page can offer.
type GraphType struct {
	Key  string `json:"type"`
	Name string `json:"name"`
}

var (
	ForceDirected = GraphType{Key: "FORCE_DIRECTED", Name: "Force Directed Graph"}
	DAG           = GraphType{Key: "DAG", Name: "DAG"}
)

// GraphTypes returns the layouts available for numDependencies edges. The
// force directed layout is always offered; the DAG layout only while the edge
// count stays within dagMaxNumServices. A non-positive limit means
// FallbackDAGMaxNumServices.
func GraphTypes(numDependencies, dagMaxNumServices int) []GraphType {
	if dagMaxNumServices <= 0 {
		dagMaxNumServices = FallbackDAGMaxNumServices
	}
	types := []GraphType{ForceDirected}
	if numDependencies <= dagMaxNumServices {
		types = append(types, DAG)
	}
	return types
}
