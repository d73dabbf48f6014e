package payment

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EVMScheme verifies EIP-712 typed-data signatures and recovers the signer
// with secp256k1. The domain descriptor is fixed; chainID selects the
// settlement network.
type EVMScheme struct {
	chainID int64
}

var _ Scheme = (*EVMScheme)(nil)

func NewEVMScheme(chainID int64) *EVMScheme {
	return &EVMScheme{chainID: chainID}
}

func (s *EVMScheme) Family() string { return "evm" }

func (s *EVMScheme) NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("malformed evm address %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

func (s *EVMScheme) typedData(a Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Payment": []apitypes.Type{
				{Name: "payer", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "asset", Type: "address"},
				{Name: "payTo", Type: "address"},
				{Name: "timestamp", Type: "uint256"},
				{Name: "nonce", Type: "string"},
			},
		},
		PrimaryType: "Payment",
		Domain: apitypes.TypedDataDomain{
			Name:    "x402 Payment",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(s.chainID),
		},
		Message: apitypes.TypedDataMessage{
			"payer":     common.HexToAddress(a.Payer).Hex(),
			"amount":    math.NewHexOrDecimal256(a.Amount),
			"asset":     common.HexToAddress(a.Asset).Hex(),
			"payTo":     common.HexToAddress(a.PayTo).Hex(),
			"timestamp": math.NewHexOrDecimal256(a.Timestamp),
			"nonce":     a.Nonce,
		},
	}
}

// SigningHash returns the EIP-712 digest clients sign.
func (s *EVMScheme) SigningHash(a Authorization) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(s.typedData(a))
	return digest, err
}

func (s *EVMScheme) VerifySignature(a Authorization) error {
	if !common.IsHexAddress(a.Payer) {
		return fmt.Errorf("%w: malformed payer address", ErrBadSignature)
	}

	digest, _, err := apitypes.TypedDataAndHash(s.typedData(a))
	if err != nil {
		return fmt.Errorf("%w: typed data hash: %v", ErrBadSignature, err)
	}

	sigHex := a.Signature
	if !strings.HasPrefix(sigHex, "0x") {
		sigHex = "0x" + sigHex
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	// Wallets produce V in {27, 28}; SigToPub expects {0, 1}.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: recover: %v", ErrBadSignature, err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), a.Payer) {
		return fmt.Errorf("%w: signer %s is not payer", ErrBadSignature, recovered.Hex())
	}
	return nil
}
