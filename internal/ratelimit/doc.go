// Package ratelimit throttles the credential endpoints per client address.
//
// State lives in process memory and is not shared between instances. It
// blunts password guessing and signup floods from a single address; it is
// not a defense against distributed abuse.
package ratelimit
