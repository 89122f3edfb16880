package core

// Component names the local actor a LiveHop addresses (spec §3, §4.6).
type Component int

const (
	ComponentHopper Component = iota
	ComponentProxyClient
	ComponentProxyServer
	ComponentNeighborhood
)

func (c Component) String() string {
	switch c {
	case ComponentHopper:
		return "Hopper"
	case ComponentProxyClient:
		return "ProxyClient"
	case ComponentProxyServer:
		return "ProxyServer"
	case ComponentNeighborhood:
		return "Neighborhood"
	default:
		return "Unknown"
	}
}
