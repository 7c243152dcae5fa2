package pipeline

import (
	"context"

	"github.com/pantierra/efast-tool/internal/clouds"
	"github.com/pantierra/efast-tool/internal/store"
)

// runCloudDetect classifies every scene of both time series and
// persists the verdicts as one clouds.json. The classifier is
// deterministic, so re-running over unchanged series rewrites the same
// verdicts.
func (r *Runner) runCloudDetect(ctx context.Context, st *runState) (stageOutcome, error) {
	var out stageOutcome

	var file clouds.File
	for _, sensor := range store.Sensors() {
		entries, err := readTimeseries(st.layout.RawNDVI(sensor))
		if err != nil {
			return out, integrityf("read %s time series: %w", sensor, err)
		}
		verdicts := r.classifier.Classify(entries)
		out.expected += len(verdicts)
		switch sensor {
		case store.S2:
			file.S2 = verdicts
		case store.S3:
			file.S3 = verdicts
		}
	}

	if err := store.WriteJSON(st.layout.CloudsFile(), file); err != nil {
		return out, &DataIntegrityError{Err: err}
	}
	out.units = out.expected
	out.manifest = []string{st.layout.Rel(st.layout.CloudsFile())}
	return out, nil
}
