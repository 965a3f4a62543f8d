package clients

import (
	"testing"

	"go.uber.org/zap"

	"tailbot/config"
)

const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Polymarket.PrivateKey = testKey
	cfg.Chain.RPCURL = "http://localhost:8545"
	return cfg
}

func TestNewClients(t *testing.T) {
	logger := zap.NewNop()
	c, err := NewClients(logger, testConfig())
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}

	if c.Logger != logger {
		t.Error("unexpected logger")
	}
	if c.Signer == nil || c.Gamma == nil || c.Clob == nil || c.Events == nil || c.Chain == nil || c.Binance == nil {
		t.Error("expected all clients to be set")
	}
	if c.Notifier == nil {
		t.Error("expected notifier to be set")
	}
}

func TestNewClientsBadKey(t *testing.T) {
	cfg := testConfig()
	cfg.Polymarket.PrivateKey = "not-a-key"
	if _, err := NewClients(zap.NewNop(), cfg); err == nil {
		t.Fatal("expected error for invalid private key")
	}
}
