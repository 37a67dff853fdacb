package selectors

import (
	"github.com/tobert/traceview/internal/depgraph"
	"github.com/tobert/traceview/internal/memo"
	"github.com/tobert/traceview/internal/model"
)

// DependencyPageProps is the view model of the service dependency page.
type DependencyPageProps struct {
	Loading      bool                   `json:"loading"`
	Error        error                  `json:"-"`
	Dependencies []model.DependencyEdge `json:"dependencies"`
	// Nodes and Links are only built when there is at least one edge.
	Nodes      []depgraph.Node      `json:"nodes,omitempty"`
	Links      []depgraph.Link      `json:"links,omitempty"`
	GraphTypes []depgraph.GraphType `json:"graphTypes"`
}

// SelectDependencyPage derives the dependency page from the dependency
// sub-state. dagMaxNumServices limits the DAG layout; see depgraph.GraphTypes.
func SelectDependencyPage(state *model.DependenciesState, dagMaxNumServices int) *DependencyPageProps {
	props := &DependencyPageProps{
		Loading:      state.Loading,
		Error:        state.Error,
		Dependencies: state.Dependencies,
		GraphTypes:   depgraph.GraphTypes(len(state.Dependencies), dagMaxNumServices),
	}
	if len(state.Dependencies) > 0 {
		g := depgraph.Build(state.Dependencies)
		props.Nodes = g.Nodes
		props.Links = g.Links
	}
	return props
}

type depArgs struct {
	state  *model.DependenciesState
	dagMax int
}

// NewDependencyPageSelector memoizes SelectDependencyPage so the graph is only
// rebuilt when the dependency sub-state or the DAG limit changes.
func NewDependencyPageSelector() func(*model.DependenciesState, int) *DependencyPageProps {
	cell := memo.New(func(a depArgs) *DependencyPageProps {
		return SelectDependencyPage(a.state, a.dagMax)
	})
	return func(state *model.DependenciesState, dagMax int) *DependencyPageProps {
		return cell.Get(depArgs{state: state, dagMax: dagMax})
	}
}
