package clients

import (
	"fmt"

	"go.uber.org/zap"

	"tailbot/clients/binance"
	"tailbot/clients/chain"
	"tailbot/clients/clob"
	"tailbot/clients/clobevents"
	"tailbot/clients/gamma"
	"tailbot/clients/notifier"
	"tailbot/clients/signer"
	"tailbot/config"
)

type Clients struct {
	Logger *zap.Logger

	Signer   *signer.Signer
	Gamma    *gamma.Client
	Clob     *clob.Client
	Events   *clobevents.Client
	Chain    *chain.Client
	Binance  *binance.Client
	Notifier notifier.Notifier
}

func NewClients(logger *zap.Logger, cfg *config.Config) (*Clients, error) {
	s, err := signer.New(
		cfg.Polymarket.PrivateKey,
		cfg.Polymarket.FunderAddress,
		cfg.Polymarket.SignatureType,
		cfg.Polymarket.NegRisk,
	)
	if err != nil {
		return nil, fmt.Errorf("clients: %w", err)
	}

	chainClient, err := chain.NewClient(cfg.Chain.RPCURL, cfg.Chain.CTFAddress, logger)
	if err != nil {
		return nil, fmt.Errorf("clients: %w", err)
	}

	return &Clients{
		Logger:   logger,
		Signer:   s,
		Gamma:    gamma.NewClient(cfg.Polymarket.GammaAPIURL, logger),
		Clob:     clob.NewClient(cfg.Polymarket.ClobAPIURL, s, cfg.Polymarket.RequestsPerSecond, logger),
		Events:   clobevents.NewClient(cfg.Polymarket.ClobWSURL, logger),
		Chain:    chainClient,
		Binance:  binance.NewClient(cfg.Binance.APIURL, logger),
		Notifier: notifier.NewMultiNotifier(notifier.NewLogNotifier(logger)),
	}, nil
}
