package unit

// Base provides identity plumbing for units.
type Base struct {
	info      Info
	artifacts []string
}

// NewBase seeds the helper with unit info.
func NewBase(info Info) Base {
	return Base{info: info}
}

// SetArtifacts declares the rendered files the unit produces.
func (b *Base) SetArtifacts(names ...string) {
	b.artifacts = append([]string{}, names...)
}

// Info implements Unit.Info.
func (b *Base) Info() Info {
	return b.info
}

// Artifacts implements Unit.Artifacts.
func (b *Base) Artifacts() []string {
	return append([]string{}, b.artifacts...)
}
