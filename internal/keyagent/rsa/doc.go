// Package rsa implements the default key agent. It generates an RSA keypair
// and decrypts handshake fields encrypted with RSA-OAEP, using SHA-1 unless
// configured otherwise. The public key is published either as a PKIX PEM
// block or as a JWK.
//
// The Encryptor type is the server half: it parses a client's published key
// and encrypts fields to it.
package rsa
