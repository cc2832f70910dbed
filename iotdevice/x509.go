package iotdevice

import (
	"bytes"
	"crypto/tls"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// X509FromPKCS12 decodes a password-protected PKCS#12 bundle (a .pfx
// file, the format some provisioning services issue device
// certificates in) into a tls.Certificate usable under AuthX509 mode.
// Bundles carrying more than one certificate use the first as the leaf
// and the rest as the chain, the ordering tls.X509KeyPair expects.
func X509FromPKCS12(pfxData []byte, password string) (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(pfxData, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("iotdevice: decode pkcs12 bundle: %w", err)
	}
	var certPEM, keyPEM bytes.Buffer
	for _, b := range blocks {
		switch b.Type {
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			if err := pem.Encode(&keyPEM, b); err != nil {
				return tls.Certificate{}, fmt.Errorf("iotdevice: encode private key: %w", err)
			}
		default:
			if err := pem.Encode(&certPEM, b); err != nil {
				return tls.Certificate{}, fmt.Errorf("iotdevice: encode certificate: %w", err)
			}
		}
	}
	cert, err := tls.X509KeyPair(certPEM.Bytes(), keyPEM.Bytes())
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("iotdevice: build tls certificate: %w", err)
	}
	return cert, nil
}
