package payments

import (
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-booking/internal/notice"
	"github.com/wolfman30/clinic-booking/internal/validation"
)

// Details are the card fields captured on the payment step. No processor is
// contacted; the appointment service receives only the masked Block.
type Details struct {
	CardholderName string `json:"cardholder_name" validate:"notblank"`
	CardNumber     string `json:"card_number" validate:"notblank"`
	ExpiryMonth    string `json:"expiry_month" validate:"notblank"`
	ExpiryYear     string `json:"expiry_year" validate:"notblank"`
	CVC            string `json:"cvc" validate:"notblank"`
	PIN            string `json:"pin,omitempty"`
}

// Block is the payment section of an appointment payload.
type Block struct {
	CardholderName string `json:"cardholder_name"`
	Last4          string `json:"last4"`
	ExpiryMonth    string `json:"expiry_month"`
	ExpiryYear     string `json:"expiry_year"`
	HasPIN         bool   `json:"has_pin"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
}

// Validate checks that every mandatory field is present. PIN is optional.
func (d Details) Validate() error {
	if err := validation.Struct(d); err != nil {
		fields := validation.FailedFields(err)
		return notice.Wrap(notice.PaymentFieldMissing,
			fmt.Sprintf("Please complete: %s.", strings.Join(fields, ", ")), err)
	}
	return nil
}

// Mask converts card details into the block sent with the appointment.
func (d Details) Mask(amountCents int64, currency string) Block {
	digits := make([]byte, 0, len(d.CardNumber))
	for i := 0; i < len(d.CardNumber); i++ {
		if c := d.CardNumber[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	last4 := string(digits)
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	if currency == "" {
		currency = "USD"
	}
	return Block{
		CardholderName: strings.TrimSpace(d.CardholderName),
		Last4:          last4,
		ExpiryMonth:    strings.TrimSpace(d.ExpiryMonth),
		ExpiryYear:     strings.TrimSpace(d.ExpiryYear),
		HasPIN:         strings.TrimSpace(d.PIN) != "",
		AmountCents:    amountCents,
		Currency:       strings.ToUpper(currency),
	}
}
