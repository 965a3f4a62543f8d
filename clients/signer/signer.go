// Package signer holds the trading key and produces EIP-712 signatures:
// the ClobAuth attestation used to derive API credentials and exchange
// orders built through go-order-utils.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
)

const (
	polygonChainID = int64(137)

	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"

	// Zero taker address makes the order fillable by anyone.
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// Signer wraps a Polygon private key.
type Signer struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funder        common.Address
	signatureType gomodel.SignatureType
	negRisk       bool
	orderBuilder  builder.ExchangeOrderBuilder
}

// New creates a signer. privateKeyHex is the key with or without 0x
// prefix; funderAddress is the wallet holding funds (empty means the key's
// own address); signatureType selects the exchange signing scheme.
func New(privateKeyHex, funderAddress string, signatureType int, negRisk bool) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey)
	funder := addr
	if funderAddress != "" {
		if !common.IsHexAddress(funderAddress) {
			return nil, fmt.Errorf("signer: invalid funder address %q", funderAddress)
		}
		funder = common.HexToAddress(funderAddress)
	}

	var sigType gomodel.SignatureType
	switch signatureType {
	case 0:
		sigType = gomodel.EOA
	case 1:
		sigType = gomodel.POLY_PROXY
	case 2:
		sigType = gomodel.POLY_GNOSIS_SAFE
	default:
		return nil, fmt.Errorf("signer: unsupported signature type %d", signatureType)
	}

	return &Signer{
		privateKey:    key,
		address:       addr,
		funder:        funder,
		signatureType: sigType,
		negRisk:       negRisk,
		orderBuilder:  builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address returns the signing key's address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Funder returns the funds-holding wallet address.
func (s *Signer) Funder() string {
	return s.funder.Hex()
}

// EIP-712 type hashes, computed once.
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

func clobAuthDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// SignClobAuth signs the ClobAuth typed data used to derive API keys.
func (s *Signer) SignClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("signer: invalid nonce %q", nonce)
	}

	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(s.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(nonceInt.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, clobAuthDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	msgHash := crypto.Keccak256Hash(rawBuf)

	sig, err := crypto.Sign(msgHash.Bytes(), s.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + fmt.Sprintf("%x", sig), nil
}

// BuildOrder signs a BUY order for size shares of tokenID at price.
// The exchange verifies makerAmount == price * takerAmount exactly, so
// amounts are derived with decimal arithmetic, never floats.
func (s *Signer) BuildOrder(tokenID string, price, size float64, feeRateBps string) (*gomodel.SignedOrder, error) {
	priceD := decimal.NewFromFloat(price)
	sizeD := decimal.NewFromFloat(size)
	if priceD.IsNegative() || priceD.IsZero() || sizeD.IsNegative() || sizeD.IsZero() {
		return nil, fmt.Errorf("signer: invalid order price=%s size=%s", priceD, sizeD)
	}

	// 6-decimal fixed point, matching USDC and CTF share units.
	takerAmount := sizeD.Shift(6)
	makerAmount := sizeD.Mul(priceD).Shift(6)
	if !takerAmount.Equal(takerAmount.Floor()) || !makerAmount.Equal(makerAmount.Floor()) {
		return nil, fmt.Errorf("signer: price %s x size %s does not land on integer base units", priceD, sizeD)
	}
	if feeRateBps == "" {
		feeRateBps = "0"
	}

	var verifyingContract gomodel.VerifyingContract
	if s.negRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	} else {
		verifyingContract = gomodel.CTFExchange
	}

	orderData := &gomodel.OrderData{
		Maker:         s.funder.Hex(),
		Taker:         zeroAddress,
		TokenId:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		FeeRateBps:    feeRateBps,
		Nonce:         "0",
		Signer:        s.address.Hex(),
		Expiration:    "0",
		Side:          gomodel.BUY,
		SignatureType: s.signatureType,
	}

	signed, err := s.orderBuilder.BuildSignedOrder(s.privateKey, orderData, verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("signer: build order: %w", err)
	}
	return signed, nil
}
