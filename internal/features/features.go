// Package features turns a transaction into the classifier's input vector.
package features

import "github.com/opensource-finance/kestrel/internal/domain"

// Size is the length of every feature vector.
const Size = 13

// Vector is a fixed-order feature vector.
type Vector [Size]float64

// Names lists the feature names in vector order.
var Names = [Size]string{
	"amount",
	"payment_mode_credit_card",
	"payment_mode_debit_card",
	"payment_mode_bank_transfer",
	"payment_mode_digital_wallet",
	"channel_web",
	"channel_mobile_app",
	"channel_in_store",
	"channel_phone",
	"amount_normalized",
	"payer_id_length",
	"payee_id_length",
	"has_bank",
}

var (
	paymentModes = [...]string{
		domain.PaymentModeCreditCard,
		domain.PaymentModeDebitCard,
		domain.PaymentModeBankTransfer,
		domain.PaymentModeDigitalWallet,
	}
	channels = [...]string{
		domain.ChannelWeb,
		domain.ChannelMobileApp,
		domain.ChannelInStore,
		domain.ChannelPhone,
	}
)

// Extract builds the feature vector for tx. A nil transaction yields the
// zero vector; missing fields count as zero or empty.
func Extract(tx *domain.Transaction) Vector {
	var v Vector
	if tx == nil {
		return v
	}

	v[0] = tx.Amount
	for i, mode := range paymentModes {
		v[1+i] = indicator(tx.PaymentMode == mode)
	}
	for i, ch := range channels {
		v[5+i] = indicator(tx.Channel == ch)
	}
	v[9] = tx.Amount / 1000
	v[10] = float64(len(tx.PayerID))
	v[11] = float64(len(tx.PayeeID))
	v[12] = indicator(tx.Bank != "")

	return v
}

// Map returns the vector keyed by feature name, for logging and debugging.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, Size)
	for i, name := range Names {
		m[name] = v[i]
	}
	return m
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
