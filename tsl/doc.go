// Package tsl defines the trust-store boundary of the signature
// engine and the X.509 utilities specific to telematik certificates:
// the Admission extension carrying profession OIDs, the certificate
// type policy sets, and a directory-based trust anchor source for
// offline operation.
//
// The trust-store implementation itself (trust service list download,
// refresh, OCSP path building) is an external collaborator; the engine
// only consumes the TrustStore interface. Snapshots handed out by a
// store stay valid until the caller drops them.
package tsl
