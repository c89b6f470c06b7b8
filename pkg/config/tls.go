package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

type RedisTLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACert             string `mapstructure:"ca_cert"`
	Certificate        string `mapstructure:"certificate"`
	PrivateKey         string `mapstructure:"private_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	MaxVersion         string `mapstructure:"max_version"`
}

// BuildRedisTLSConfig returns the client TLS settings for the Redis pools,
// or nil when TLS is disabled.
func BuildRedisTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var certificates []tls.Certificate
	if cfg.Certificate != "" && cfg.PrivateKey != "" {
		certPath, err := resolvePath(cfg.Certificate)
		if err != nil {
			return nil, fmt.Errorf("resolve client certificate path: %w", err)
		}
		keyPath, err := resolvePath(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("resolve client private key path: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key: %w", err)
		}
		certificates = append(certificates, cert)
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system CA pool: %w", err)
	}
	if cfg.CACert != "" {
		caPath, err := resolvePath(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("resolve CA cert path: %w", err)
		}
		caBytes, err := os.ReadFile(caPath) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		if ok := rootCAs.AppendCertsFromPEM(caBytes); !ok {
			return nil, fmt.Errorf("failed to append CA certificate from %s", cfg.CACert)
		}
	}

	return &tls.Config{
		RootCAs:            rootCAs,
		Certificates:       certificates,
		InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tlsVersion(cfg.MaxVersion),
	}, nil
}

func resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, path), nil
}

func tlsVersion(version string) uint16 {
	switch version {
	case "TLS12":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS13
	}
}
