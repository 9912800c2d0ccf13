// Package engine executes a scheduler plan against one dossier. A run loads
// the dossier, invokes the prerequisite unit, fans the remaining units out
// over private snapshots, folds their outputs back in declared order,
// enforces the override rules and persists the result before publishing the
// rendered artifacts. Every run leaves a State record behind for inspection.
package engine
