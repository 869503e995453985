package dialog

import (
	"slices"

	"github.com/tanbro/sipua/pkg/sip/message"
)

// RouteSet is the ordered list of Route header values used for requests
// inside a dialog. It becomes immutable once the dialog is confirmed.
type RouteSet struct {
	routes []string
	frozen bool
}

// Set replaces the route set from Record-Route values. A UAC reverses
// them, a UAS keeps them as received.
func (rs *RouteSet) Set(recordRoutes []string, role Role) error {
	if rs.frozen {
		return ErrRouteSetFrozen
	}
	routes := message.SplitList(recordRoutes)
	if role == UAC {
		slices.Reverse(routes)
	}
	rs.routes = routes
	return nil
}

func (rs *RouteSet) freeze() { rs.frozen = true }

// Frozen reports whether the route set can no longer change.
func (rs *RouteSet) Frozen() bool { return rs.frozen }

// Routes returns a copy of the route values.
func (rs *RouteSet) Routes() []string { return slices.Clone(rs.routes) }

func (rs *RouteSet) Len() int { return len(rs.routes) }

// loose reports whether the first hop is a loose router (";lr").
func (rs *RouteSet) loose() bool {
	if len(rs.routes) == 0 {
		return true
	}
	uri, err := message.AddressURI(rs.routes[0])
	if err != nil {
		return true
	}
	return uri.Params.Has("lr")
}

// apply sets the Request-URI and Route headers of req for target
// (RFC 3261 12.2.1.1). With a strict first hop, the hop becomes the
// Request-URI and the target is appended as the last route.
func (rs *RouteSet) apply(req *message.Request, target *message.URI) {
	req.RemoveHeader("Route")
	if rs.loose() {
		req.RequestURI = target.Clone()
		for _, r := range rs.routes {
			req.AddHeader("Route", r)
		}
		return
	}

	first, err := message.AddressURI(rs.routes[0])
	if err != nil {
		req.RequestURI = target.Clone()
		return
	}
	first.Params = nil
	req.RequestURI = first
	for _, r := range rs.routes[1:] {
		req.AddHeader("Route", r)
	}
	req.AddHeader("Route", "<"+target.String()+">")
}
