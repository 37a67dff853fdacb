package selectors

import (
	"github.com/tobert/traceview/internal/memo"
	"github.com/tobert/traceview/internal/model"
)

// ServiceOperations is a service name with its known operations.
type ServiceOperations struct {
	Name       string   `json:"name"`
	Operations []string `json:"operations"`
}

// ServicesView is the service slice of the search page view model.
type ServicesView struct {
	LoadingServices bool
	// Services stays unloaded until the catalog has been fetched.
	Services     model.List[ServiceOperations]
	ServiceError error
}

// SelectServices pairs every known service with its operations. Services
// whose operations have not been fetched get an empty list.
func SelectServices(state *model.ServicesState) *ServicesView {
	view := &ServicesView{
		LoadingServices: state.Loading,
		Services:        model.Unloaded[ServiceOperations](),
		ServiceError:    state.Error,
	}
	names, loaded := state.Services.Items()
	if !loaded {
		return view
	}
	out := make([]ServiceOperations, len(names))
	for i, name := range names {
		ops := state.OperationsForService[name]
		if ops == nil {
			ops = []string{}
		}
		out[i] = ServiceOperations{Name: name, Operations: ops}
	}
	view.Services = model.Loaded(out)
	return view
}

// NewServicesSelector memoizes SelectServices on the services sub-state.
func NewServicesSelector() func(*model.ServicesState) *ServicesView {
	return memo.New(SelectServices).Get
}
