package entity

type PaymentRequest struct {
	OrderID  string
	Amount   Money
	Currency string
	Metadata map[string]string
}

// PaymentRedirect is where the payer is sent to enter card details.
type PaymentRedirect struct {
	OrderID    string `json:"order_id"`
	AccessCode string `json:"access_code"`
	URL        string `json:"url"`
}

// GatewayCallback is a decoded callback. SignatureValid is false when the
// payload was not signed with the shared secret; the other fields must not be
// trusted in that case.
type GatewayCallback struct {
	OrderID        string `json:"order_id"`
	ResultCode     string `json:"result_code"`
	Charged        Money  `json:"charged"`
	GatewayID      string `json:"gateway_id"`
	SignatureValid bool   `json:"-"`
}

type GatewayRefund struct {
	Success   bool   `json:"success"`
	Refunded  Money  `json:"refunded"`
	GatewayID string `json:"gateway_id"`
}
