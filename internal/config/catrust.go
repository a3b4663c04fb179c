package config

import (
	"fmt"

	"github.com/smallstep/truststore"

	"github.com/proxide/proxide/cert"
)

// TrustCA installs ca's root certificate into the OS trust store, the
// action behind "proxide config ca --trust".
func TrustCA(ca cert.CA) error {
	if err := truststore.Install(ca.GetRootCA()); err != nil {
		return fmt.Errorf("config: install CA in system trust store: %w", err)
	}
	return nil
}

// RevokeCA removes ca's root certificate from the OS trust store, the
// action behind "proxide config ca --revoke".
func RevokeCA(ca cert.CA) error {
	if err := truststore.Uninstall(ca.GetRootCA()); err != nil {
		return fmt.Errorf("config: remove CA from system trust store: %w", err)
	}
	return nil
}
