// Package cryptoutil holds the digest and signing helpers used when
// publishing the asset manifest.
//
// Signatures are made by AWS KMS over a SHA-256 digest and checked locally
// against the key's public half before anything is uploaded.
package cryptoutil
