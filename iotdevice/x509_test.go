package iotdevice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX509FromPKCS12RejectsGarbageBundle(t *testing.T) {
	_, err := X509FromPKCS12([]byte("not a pkcs12 bundle"), "password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode pkcs12 bundle")
}

func TestX509FromPKCS12RejectsEmptyBundle(t *testing.T) {
	// An empty bundle still fails at decode time regardless of password,
	// since it isn't valid PKCS#12 ASN.1 to begin with.
	_, err := X509FromPKCS12(nil, "wrong")
	require.Error(t, err)
}
