package payment

import (
	"strconv"
	"strings"
)

// Authorization is a parsed X-Payment header: a signed, single-use statement
// that a payment of Amount (smallest asset units) to PayTo has been
// committed by Payer. It is never persisted as a record; only its nonce is,
// through the nonce ledger.
type Authorization struct {
	Payer     string
	Amount    int64
	Asset     string
	PayTo     string
	Timestamp int64
	Nonce     string
	Signature string
}

// Result is the verifier outcome. Reason is for logs and tests only; the
// HTTP layer must never forward it to callers, so a rejected authorization
// does not reveal which check failed.
type Result struct {
	Authorization
	Valid  bool
	Reason string
}

// ParseHeader decodes the flat `key=value,key=value` X-Payment encoding.
// Unknown keys are ignored, entries without '=' are skipped. This wire
// format is an external contract; do not change it.
func ParseHeader(header string) map[string]string {
	parts := make(map[string]string)
	for _, item := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		parts[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return parts
}

// EncodeHeader renders an authorization in the X-Payment wire format, with
// the field order clients conventionally use.
func EncodeHeader(a Authorization) string {
	var b strings.Builder
	b.WriteString("payer=")
	b.WriteString(a.Payer)
	b.WriteString(",amount=")
	b.WriteString(strconv.FormatInt(a.Amount, 10))
	b.WriteString(",asset=")
	b.WriteString(a.Asset)
	b.WriteString(",payTo=")
	b.WriteString(a.PayTo)
	b.WriteString(",timestamp=")
	b.WriteString(strconv.FormatInt(a.Timestamp, 10))
	b.WriteString(",nonce=")
	b.WriteString(a.Nonce)
	b.WriteString(",signature=")
	b.WriteString(a.Signature)
	return b.String()
}
