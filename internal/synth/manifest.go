package synth

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exp-bench/internal/model"
)

// ManifestFile is the manifest's name inside the query output directory.
const ManifestFile = "manifest.json"

// Write persists every query in the batch under dir and writes the
// manifest. A query whose file cannot be written is reported as a failure
// and left out of the manifest; only a manifest write error is returned.
func Write(dir string, b *Batch) ([]model.ManifestEntry, []Failure, error) {
	log := zap.L().With(zap.String("component", "synth.manifest"))

	for _, approach := range []model.Approach{model.ApproachOnDemand, model.ApproachPreAgg} {
		if err := os.MkdirAll(filepath.Join(dir, string(approach)), 0o755); err != nil {
			return nil, nil, eris.Wrapf(err, "synth: create %s dir", approach)
		}
	}

	manifest := make([]model.ManifestEntry, 0, len(b.Queries))
	var failures []Failure
	for _, q := range b.Queries {
		entry := q.Entry()
		if err := os.WriteFile(filepath.Join(dir, entry.File), []byte(q.SQL), 0o644); err != nil {
			log.Warn("write query failed", zap.String("file", entry.File), zap.Error(err))
			failures = append(failures, Failure{Key: q.QueryKey, Err: eris.Wrapf(err, "synth: write %s", entry.File)})
			continue
		}
		manifest = append(manifest, entry)
	}

	if err := WriteManifest(filepath.Join(dir, ManifestFile), manifest); err != nil {
		return nil, failures, err
	}
	return manifest, failures, nil
}

// WriteManifest writes entries as indented JSON.
func WriteManifest(path string, entries []model.ManifestEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "synth: marshal manifest")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "synth: write manifest %s", path)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) ([]model.ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "synth: read manifest %s", path)
	}
	var entries []model.ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, eris.Wrapf(err, "synth: parse manifest %s", path)
	}
	return entries, nil
}
