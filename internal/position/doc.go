// Package position mints and compares feed position tokens.
//
// A token is 16 bytes in the ULID layout: a 6-byte big-endian millisecond
// timestamp followed by 10 bytes of entropy. Tokens compare byte-wise, so the
// time prefix dominates and tokens minted later sort later. Within a single
// millisecond the order is arbitrary but total.
//
// Tokens double as consumer cursors. The zero token means "from the
// beginning" and sorts before every minted token.
package position
