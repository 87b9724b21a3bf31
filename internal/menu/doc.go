// Package menu builds the navigation forest from the flat menu table and
// prunes it to what a user may see.
//
// A Forest is an arena keyed by menu id. Each node stores its parent as an
// id and the forest keeps a separate children index, so there are no
// pointer cycles and a pruned copy shares nothing mutable with its source.
//
// Build rejects parent cycles with a *CycleError; ValidateParent performs
// the same check before a write so a cycle never reaches the table.
package menu
