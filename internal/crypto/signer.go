// Package crypto signs and verifies API requests with secp256k1 keys. A caller
// proves its identity by signing the request; the server recovers the
// address from the signature.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// signaturePrefix domain-separates request signatures from other messages
// signed with the same key.
const signaturePrefix = "friendbet request"

// RequestSigner signs API requests on behalf of one identity.
type RequestSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewRequestSigner creates a RequestSigner from a hex-encoded secp256k1
// private key, with or without the 0x prefix.
func NewRequestSigner(privateKeyHex string) (*RequestSigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &RequestSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *RequestSigner) Address() common.Address {
	return s.address
}

// SignRequest signs method, path, timestamp and body. It returns a
// hex-encoded 65-byte signature with v in {27,28}.
func (s *RequestSigner) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	return s.signDigest(RequestDigest(method, path, timestamp, body))
}

// RequestMessage builds the text that is signed for a request:
//
//	friendbet request
//	POST
//	/api/bets/abc-1/match
//	1700000000
//	0x<keccak256(body)>
func RequestMessage(method, path string, timestamp int64, body []byte) string {
	return strings.Join([]string{
		signaturePrefix,
		strings.ToUpper(method),
		path,
		strconv.FormatInt(timestamp, 10),
		hexutil.Encode(ethcrypto.Keccak256(body)),
	}, "\n")
}

// RequestDigest returns the EIP-191 personal-message hash of RequestMessage:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	msg := RequestMessage(method, path, timestamp, body)
	return ethcrypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
}

// RecoverAddress returns the address that produced sigHex over the request.
// v may be in {0,1} or {27,28}; signatures with s in the upper half of the
// curve order are rejected so each request has one accepted encoding per v.
func RecoverAddress(method, path string, timestamp int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d, want %d", len(sig), ethcrypto.SignatureLength)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r, sv := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, sv, true) {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid signature values")
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, timestamp, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *RequestSigner) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets expect v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}
