// Package accesstoken verifies the IDP access tokens presented with
// every request: BP256R1-signed JWTs in compact serialization.
//
// The Brainpool P-256 signing method is registered with golang-jwt
// under the algorithm name "BP256R1"; verification is strict about
// structure (exactly two dots, non-empty header and signature), the
// role-dependent claim set, the audience, and the temporal claims with
// a small issued-at tolerance. All failures map onto a fixed error
// taxonomy so callers can translate them into authentication refusals.
package accesstoken
