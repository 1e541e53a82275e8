// Package ir provides the axis-aware intermediate representation for tensorc.
//
// This package contains the graph model only. All other internal packages
// import ir; ir imports nothing internal. This keeps the IR the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Every Variable carries an AxisOrder whose length equals its rank
//   - Attributes and operator traits are closed bit sets, never type switches
//     on concrete variable types
//   - Strides are row-major relative to the variable's own order, not a
//     global canonical order
//   - Constant data is never mutated in place; re-ordering allocates
//   - All JSON tags use snake_case
package ir
