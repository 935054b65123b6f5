package paypal

import "github.com/mstgnz/payflow/gateway"

func init() {
	gateway.Register(Name, New)
}
