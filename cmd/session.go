package cmd

import (
	"crypto/tls"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/blelink/internal/bridge"
	"github.com/nextlevelbuilder/blelink/internal/bus"
	"github.com/nextlevelbuilder/blelink/internal/config"
	"github.com/nextlevelbuilder/blelink/internal/pairing"
	"github.com/nextlevelbuilder/blelink/internal/peripheral"
)

// newBridgeConn builds the bridge transport from the bridge config.
func newBridgeConn(cfg *config.Config) *bridge.Conn {
	bc := cfg.Bridge
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.DialTimeout(),
	}
	if bc.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	opts := []bridge.Option{
		bridge.WithDialer(dialer),
		bridge.WithSendRate(bc.SendRate, bc.SendBurst),
	}
	if bc.Origin != "" {
		opts = append(opts, bridge.WithHeader(http.Header{"Origin": []string{bc.Origin}}))
	}
	return bridge.NewConn(bc.URL, opts...)
}

// newSession wires a peripheral session to a fresh bridge connection and bus.
func newSession(cfg *config.Config, msgBus *bus.MessageBus, onMessage func(json.RawMessage)) *peripheral.Session {
	return peripheral.NewSession(newBridgeConn(cfg), msgBus, peripheral.Options{
		ExtensionID: cfg.Extension.ID,
		Discovery:   cfg.DiscoverParams(),
		ScanTimeout: cfg.ScanTimeout(),
		OnMessage:   onMessage,
	})
}

// newPairingService opens the remembered-peripheral store, with PINs in the
// OS keyring when configured.
func newPairingService(cfg *config.Config) *pairing.Service {
	var secrets pairing.SecretStore
	if cfg.Pairing.Keyring {
		secrets = pairing.NewKeyring()
	}
	return pairing.NewService(config.ExpandHome(cfg.Pairing.StorePath), secrets)
}
