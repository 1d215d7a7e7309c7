// Package cades creates and verifies PKCS#7/CMS CAdES-BES signatures
// as used for qualified e-prescription signing.
//
// Verification enforces the four mandatory signed attributes
// (contentType, signingTime, messageDigest and an ESS
// SigningCertificate v1 or v2), recomputes the ESS certificate digest,
// and hands the signer certificate — together with an embedded OCSP
// response, if present — to the trust store for path and revocation
// checking. Signing synthesizes the ESS attribute matching the digest
// algorithm (SHA-1 based v1, otherwise v2), optionally embeds an OCSP
// response keyed by the revocation-container OID, and emits the
// Base64-encoded DER envelope.
package cades
