package domain

// Network is a supported blockchain network. The set is closed: unknown
// names are rejected at the boundary via network.ByName, never deep in the
// resolver.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkPolygon  Network = "polygon"
)

// Valid reports whether the network is one of the supported values.
func (n Network) Valid() bool {
	switch n {
	case NetworkEthereum, NetworkPolygon:
		return true
	}
	return false
}
