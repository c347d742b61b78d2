package types

// Event represents a typed event emitted during ledger state transitions.
// Attributes are string encoded so off-chain indexers can consume them
// without schema negotiation.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
