// Package trace reads traced framework graphs.
//
// A trace is a CUE (or JSON) document listing the tensors and the framework
// operations recorded while running a model forward once. Documents are
// unified with the embedded #Trace schema before decoding, so malformed
// traces are rejected with source positions. Large constants live in a
// separate little-endian float32 weight blob and are referenced by offset.
package trace
