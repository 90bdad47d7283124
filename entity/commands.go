package entity

// SendNotification asks the notifications service to deliver a templated
// message. Delivery failures never reach the ledger path.
type SendNotification struct {
	Header    EventHeader       `json:"header"`
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Context   map[string]string `json:"context"`
}
