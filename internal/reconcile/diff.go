package reconcile

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// SnapshotDiff renders a line diff from observed to desired, one component
// per line: `-` lines are observed only, `+` lines desired only.
func SnapshotDiff(observed, desired Snapshot) string {
	dmp := diffmatchpatch.New()

	a, b, c := dmp.DiffLinesToChars(observed.Lines(), desired.Lines())
	diffs := dmp.DiffMain(a, b, false)
	result := dmp.DiffCharsToLines(diffs, c)

	var buff bytes.Buffer
	for _, diff := range result {
		prefix := "  "
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.Split(diff.Text, "\n") {
			if line == "" {
				continue
			}
			buff.WriteString(prefix + line + "\n")
		}
	}
	return buff.String()
}

func logSnapshotDiff(controller string, observed, desired Snapshot) {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		return
	}
	log.Debug().Str("controller", controller).Msg("Desired and observed differ:\n" + SnapshotDiff(observed, desired))
}
