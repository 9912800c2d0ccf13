package dossier

import "github.com/mohae/deepcopy"

// Clone returns an independently owned deep copy. Mutating the clone, or any
// nested map or slice inside it, never affects the receiver.
func (d Dossier) Clone() Dossier {
	if d == nil {
		return New()
	}
	copied, ok := deepcopy.Copy(map[string]any(d)).(map[string]any)
	if !ok || copied == nil {
		return New()
	}
	return Dossier(copied)
}
