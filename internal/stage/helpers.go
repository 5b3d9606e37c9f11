package stage

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mriprep/internal/services"
	"mriprep/internal/spatial"
)

// Fail wraps err with the stage identity and a remediation hint.
func Fail(step spatial.Step, marker error, operation, hint string, err error) error {
	return services.Wrap(marker, string(step), operation, hint, err)
}

// Missing returns the refs not populated in data.
func Missing(data *spatial.Data, refs []spatial.Ref) []spatial.Ref {
	var missing []spatial.Ref
	for _, ref := range refs {
		if !data.Has(ref) {
			missing = append(missing, ref)
		}
	}
	return missing
}

// JoinRefs renders refs as a comma separated list.
func JoinRefs(refs []spatial.Ref) string {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		parts = append(parts, ref.String())
	}
	return strings.Join(parts, ", ")
}

var titler = cases.Title(language.English)

// Label renders a step identifier for humans, e.g. "Skull Stripping".
func Label(step spatial.Step) string {
	return titler.String(strings.ReplaceAll(string(step), "-", " "))
}
