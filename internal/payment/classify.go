// Package payment turns the opaque result of an external payment app into a
// terminal payment status.
package payment

import (
	"net/url"
	"strings"

	"github.com/kieracarman/canteen/internal/models"
)

// Outcome is how the payment app returned control
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeCanceled Outcome = "canceled"
)

// Result is what the payment app handed back
type Result struct {
	Outcome       Outcome `json:"outcome"`
	ResponseCode  string  `json:"responseCode,omitempty"`
	Status        string  `json:"status,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
}

var cancelCodes = map[string]bool{
	"U16": true,
	"U69": true,
	"ZA":  true,
}

// Classify maps a result to a terminal status. The response code wins over
// the status text; with neither present the payment counts as cancelled.
func Classify(r Result) models.PaymentStatus {
	switch r.Outcome {
	case OutcomeCanceled:
		return models.PaymentCancelled
	case OutcomeOK, "":
	default:
		return models.PaymentFailed
	}

	if code := strings.TrimSpace(r.ResponseCode); code != "" {
		switch {
		case code == "00" || code == "0":
			return models.PaymentSuccess
		case cancelCodes[code]:
			return models.PaymentCancelled
		default:
			return models.PaymentFailed
		}
	}

	if status := strings.ToUpper(strings.TrimSpace(r.Status)); status != "" {
		switch status {
		case "SUCCESS", "SUBMITTED":
			return models.PaymentSuccess
		case "CANCELLED", "CANCEL":
			return models.PaymentCancelled
		default:
			return models.PaymentFailed
		}
	}

	return models.PaymentCancelled
}

// ParseResponse reads a UPI style response string such as
// "txnId=T1&responseCode=00&Status=SUCCESS". Key names vary between apps,
// so lookups ignore case.
func ParseResponse(raw string) Result {
	r := Result{Outcome: OutcomeOK}
	values, err := url.ParseQuery(strings.TrimSpace(raw))
	if err != nil && len(values) == 0 {
		return r
	}
	for key, vs := range values {
		if len(vs) == 0 {
			continue
		}
		switch strings.ToLower(key) {
		case "responsecode":
			r.ResponseCode = vs[0]
		case "status":
			r.Status = vs[0]
		case "txnid", "transactionid":
			if r.TransactionID == "" {
				r.TransactionID = vs[0]
			}
		}
	}
	return r
}
