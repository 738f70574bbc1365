// Package bitcoinadapter is a thin gRPC client for the operator-run
// bitcoin-adapter sidecar that fronts a Bitcoin Core node: UTXO
// lookups, raw transaction broadcast, and confirmation tracking. The
// sidecar's service definition is operator-infrastructure, not
// vendored into this module, so requests and responses are exchanged
// as google.protobuf.Struct values rather than hand-maintained
// generated stubs.
package bitcoinadapter

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/omnibridge/bridge-runtime/pkg/config"
)

// Dial opens a connection to the bitcoin-adapter sidecar.
func Dial(cfg config.BitcoinConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(cfg.AdapterAddr, opts...)
}

func dialOptions(cfg config.BitcoinConfig) ([]grpc.DialOption, error) {
	var opts []grpc.DialOption

	if cfg.TLS.Enabled {
		tlsCfg, err := loadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("load TLS config: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return opts, nil
}

func loadTLSConfig(c config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{NextProtos: []string{"h2"}}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		b, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(b) {
			return nil, fmt.Errorf("append CA certs from PEM failed")
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}
