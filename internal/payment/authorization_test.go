package payment

import (
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	a := Authorization{
		Payer:     "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
		Amount:    1250,
		Asset:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PayTo:     "0x1111111111111111111111111111111111111111",
		Timestamp: 1700000000,
		Nonce:     "b3c1f0a2",
		Signature: "0xdeadbeef",
	}

	parts := ParseHeader(EncodeHeader(a))
	if parts["payer"] != a.Payer || parts["nonce"] != a.Nonce || parts["signature"] != a.Signature {
		t.Fatalf("round trip mangled fields: %v", parts)
	}
	if parts["amount"] != "1250" || parts["timestamp"] != "1700000000" {
		t.Fatalf("numeric fields mangled: %v", parts)
	}
}

func TestParseHeaderToleratesWhitespaceAndJunk(t *testing.T) {
	parts := ParseHeader(" payer=abc , amount=5 ,noequals, =orphan,nonce=n1 ")
	if parts["payer"] != "abc" || parts["amount"] != "5" || parts["nonce"] != "n1" {
		t.Fatalf("unexpected parse: %v", parts)
	}
	if _, ok := parts["noequals"]; ok {
		t.Fatal("entry without '=' should be skipped")
	}
}

func TestParseHeaderEmpty(t *testing.T) {
	if parts := ParseHeader(""); len(parts) != 0 {
		t.Fatalf("expected empty map, got %v", parts)
	}
}
