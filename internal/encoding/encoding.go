// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-sessionkey.
//
// go-sessionkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package encoding encodes and decodes the RSA sealing keys held by the
// software key store and exported by the CLI.
//
// Private keys are PKCS#8 DER, encrypted with PBES2 when a password is
// given. Public keys are PKIX DER or PEM.
package encoding

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"
)

var (
	// ErrInvalidEncodingPEM is returned when PEM decoding fails.
	ErrInvalidEncodingPEM = errors.New("invalid PEM encoding")

	// ErrInvalidPassword is returned when the password is incorrect.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrInvalidKeyType is returned for a key that is not RSA.
	ErrInvalidKeyType = errors.New("invalid key type")
)

// EncodePrivateKey encodes a private key to ASN.1 DER PKCS#8 format.
//
// If a password is provided, the key will be encrypted using PKCS#8.
// If password is empty, the key will be encoded without encryption.
func EncodePrivateKey(privateKey *rsa.PrivateKey, password []byte) ([]byte, error) {
	if privateKey == nil {
		return nil, errors.New("private key cannot be nil")
	}

	var (
		der []byte
		err error
	)
	if len(password) > 0 {
		der, err = pkcs8.MarshalPrivateKey(privateKey, password, nil)
	} else {
		der, err = x509.MarshalPKCS8PrivateKey(privateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return der, nil
}

// DecodePrivateKey decodes a PKCS#8 DER private key. The password is
// required for encrypted keys and should be empty otherwise.
func DecodePrivateKey(der, password []byte) (*rsa.PrivateKey, error) {
	if len(der) == 0 {
		return nil, errors.New("DER data cannot be empty")
	}

	var (
		key any
		err error
	)
	if len(password) > 0 {
		key, err = pkcs8.ParsePKCS8PrivateKey(der, password)
	} else {
		key, err = x509.ParsePKCS8PrivateKey(der)
	}
	if err != nil {
		if strings.Contains(err.Error(), "pkcs8: incorrect password") {
			return nil, ErrInvalidPassword
		}
		// The PKCS8 package doesn't always return "incorrect password",
		// sometimes this ASN.1 error is given when it fails to parse the
		// private key because it's encrypted and the password is incorrect.
		if strings.Contains(err.Error(), "asn1: structure error: tags don't match") {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrInvalidKeyType, key)
	}
	return rsaKey, nil
}

// EncodePublicKey encodes a public key to ASN.1 DER PKIX format.
func EncodePublicKey(publicKey *rsa.PublicKey) ([]byte, error) {
	if publicKey == nil {
		return nil, errors.New("public key cannot be nil")
	}

	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return der, nil
}

// DecodePublicKey decodes an ASN.1 DER PKIX public key.
func DecodePublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrInvalidKeyType, pub)
	}
	return rsaPub, nil
}

// EncodePublicKeyPEM encodes a public key to PEM format.
func EncodePublicKeyPEM(publicKey *rsa.PublicKey) ([]byte, error) {
	der, err := EncodePublicKey(publicKey)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := pem.Encode(buf, &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode PEM: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePublicKeyPEM decodes a PEM encoded public key.
func DecodePublicKeyPEM(pemData []byte) (*rsa.PublicKey, error) {
	if len(pemData) == 0 {
		return nil, errors.New("PEM data cannot be empty")
	}

	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidEncodingPEM
	}
	return DecodePublicKey(block.Bytes)
}
