package sign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
)

// Identity is the development-grade signing material: a self-signed
// certificate in the style of the SDK debug keystore.
type Identity struct {
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
}

const identityFile = "debug-signer.pem"

// GenerateIdentity creates a fresh RSA-2048 self-signed debug
// certificate valid for ten thousand days, mirroring the conventional
// androiddebugkey parameters.
func GenerateIdentity() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "failed to generate signing key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "failed to generate certificate serial")
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "Android Debug",
			Organization: []string{"Android"},
			Country:      []string{"US"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(0, 0, 10000),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "failed to create signing certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "failed to parse signing certificate")
	}

	return &Identity{Certificate: cert, Key: key}, nil
}

// LoadOrGenerateIdentity reuses the PEM-encoded identity stored under
// dir, generating and persisting a new one when absent or unreadable.
// Reusing the identity keeps converted builds upgradeable over each
// other on a device.
func LoadOrGenerateIdentity(dir string) (*Identity, error) {
	path := filepath.Join(dir, identityFile)

	if data, err := os.ReadFile(path); err == nil {
		if id, err := decodeIdentity(data); err == nil {
			return id, nil
		}
		// Corrupt identity file: fall through and regenerate.
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err == nil {
		os.WriteFile(path, encodeIdentity(id), 0600)
	}
	return id, nil
}

func encodeIdentity(id *Identity) []byte {
	var out []byte
	out = append(out, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(id.Key),
	})...)
	out = append(out, pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: id.Certificate.Raw,
	})...)
	return out
}

func decodeIdentity(data []byte) (*Identity, error) {
	var id Identity
	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		data = rest
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			id.Key = key
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, err
			}
			id.Certificate = cert
		}
	}
	if id.Key == nil || id.Certificate == nil {
		return nil, apperrors.NewSigningError(apperrors.CodeSigningFailed,
			"identity file is missing key or certificate")
	}
	return &id, nil
}
