package signer

import (
	"strings"
	"testing"
)

// Well-known development key, never funded.
const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

const testAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

func TestNew(t *testing.T) {
	s, err := New(testKey, "", 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Address() != testAddress {
		t.Errorf("Address() = %s, want %s", s.Address(), testAddress)
	}
	// Without an explicit funder the key's own address holds funds.
	if s.Funder() != testAddress {
		t.Errorf("Funder() = %s, want %s", s.Funder(), testAddress)
	}
}

func TestNewTrimsHexPrefix(t *testing.T) {
	s, err := New("0x"+testKey, "", 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Address() != testAddress {
		t.Errorf("Address() = %s, want %s", s.Address(), testAddress)
	}
}

func TestNewExplicitFunder(t *testing.T) {
	funder := "0x1111111111111111111111111111111111111111"
	s, err := New(testKey, funder, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(s.Funder(), funder) {
		t.Errorf("Funder() = %s, want %s", s.Funder(), funder)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("not-a-key", "", 0, false); err == nil {
		t.Error("expected error for invalid private key")
	}
	if _, err := New(testKey, "not-an-address", 0, false); err == nil {
		t.Error("expected error for invalid funder address")
	}
	if _, err := New(testKey, "", 7, false); err == nil {
		t.Error("expected error for unsupported signature type")
	}
}

func TestSignClobAuth(t *testing.T) {
	s, err := New(testKey, "", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	sig, err := s.SignClobAuth("1700000000", "0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Errorf("expected a 65-byte hex signature, got %q (len %d)", sig, len(sig))
	}

	// Deterministic for the same inputs.
	again, err := s.SignClobAuth("1700000000", "0")
	if err != nil {
		t.Fatal(err)
	}
	if sig != again {
		t.Error("expected deterministic signatures for identical inputs")
	}

	if _, err := s.SignClobAuth("1700000000", "nonsense"); err == nil {
		t.Error("expected error for a non-numeric nonce")
	}
}

func TestBuildOrderAmounts(t *testing.T) {
	s, err := New(testKey, "", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	signed, err := s.BuildOrder("123456789", 0.5, 10, "0")
	if err != nil {
		t.Fatal(err)
	}
	if got := signed.Order.TakerAmount.String(); got != "10000000" {
		t.Errorf("TakerAmount = %s, want 10000000", got)
	}
	if got := signed.Order.MakerAmount.String(); got != "5000000" {
		t.Errorf("MakerAmount = %s, want 5000000", got)
	}
	if got := signed.Order.Maker.Hex(); got != testAddress {
		t.Errorf("Maker = %s, want %s", got, testAddress)
	}
	if len(signed.Signature) == 0 {
		t.Error("expected a non-empty signature")
	}
}

func TestBuildOrderTargetPriceSizing(t *testing.T) {
	s, err := New(testKey, "", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	// ceil(10 / 0.99) at cent precision is 10.11 shares.
	signed, err := s.BuildOrder("123456789", 0.99, 10.11, "0")
	if err != nil {
		t.Fatal(err)
	}
	if got := signed.Order.TakerAmount.String(); got != "10110000" {
		t.Errorf("TakerAmount = %s, want 10110000", got)
	}
	if got := signed.Order.MakerAmount.String(); got != "10008900" {
		t.Errorf("MakerAmount = %s, want 10008900", got)
	}
}

func TestBuildOrderRejectsDegenerate(t *testing.T) {
	s, err := New(testKey, "", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.BuildOrder("123456789", 0, 10, "0"); err == nil {
		t.Error("expected error for zero price")
	}
	if _, err := s.BuildOrder("123456789", 0.5, 0, "0"); err == nil {
		t.Error("expected error for zero size")
	}
}
