package models

// All lists every server-side model, in migration order.
func All() []interface{} {
	return []interface{}{
		&PaymentRequest{},
		&OfflineSubmission{},
	}
}
