package main

import (
	"path/filepath"

	"github.com/proxide/proxide/cert"
)

// loadCA resolves the documented --ca-cert/--ca-key flags into a CA.
// Either flag left empty falls back to the config file's ca_dir (joined
// with the default PEM filename), then to the CA package's own per-user
// default path.
func loadCA(caCertPath, caKeyPath string, force bool) (cert.CA, error) {
	caDir := ""
	if fileCfg, err := loadConfig(); err == nil {
		caDir = fileCfg.CADir
	}

	if caCertPath == "" && caDir != "" {
		caCertPath = filepath.Join(caDir, "proxide-ca-cert.pem")
	}
	if caKeyPath == "" && caDir != "" {
		caKeyPath = filepath.Join(caDir, "proxide-ca-key.pem")
	}

	return cert.LoadOrCreateCAFiles(caCertPath, caKeyPath, force)
}
