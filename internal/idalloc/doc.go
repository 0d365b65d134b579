// Package idalloc allocates tunnel keys for multicast groups.
//
// Keys are scoped to a datapath and drawn from one inclusive range. Once a
// group has a committed key it keeps it for as long as the group exists; new
// groups get the lowest key of the range not used by any committed group of
// the same datapath. The allocator keeps no state between calls: committed
// keys are always passed in, so the committed output store stays the only
// source of truth.
package idalloc
