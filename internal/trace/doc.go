// Package trace records AmigaDOS packet calls as a stream of CBOR records
// for post-mortem debugging. Enabled with -trace on the amifuse command
// line, independent of -debug logging; it is a strictly additive
// diagnostic surface with no effect on bridge behavior.
package trace
