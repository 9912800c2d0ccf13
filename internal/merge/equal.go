package merge

import (
	"encoding/json"
	"fmt"

	"github.com/kingrea/lending-autopilot/internal/dossier"
)

// canonicalKey returns a stable identity for a JSON value. Map keys are
// sorted by the encoder, so structurally equal values share a key.
func canonicalKey(value any) string {
	if s, ok := value.(string); ok {
		return "s:" + s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("?:%#v", value)
	}
	return "j:" + string(encoded)
}

func equalJSON(a, b any) bool {
	return canonicalKey(a) == canonicalKey(b)
}

// Changed returns the top-level fields of output that differ from input.
// Fields output dropped are not reported; absence is never a change.
func Changed(input, output dossier.Dossier) dossier.Dossier {
	delta := dossier.New()
	for key, value := range output {
		if previous, ok := input[key]; ok && equalJSON(previous, value) {
			continue
		}
		delta[key] = value
	}
	return delta
}
