package app

import (
	"fmt"
	"log/slog"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
)

// mergeRunnerResult folds one runner's returned collection into master.
// Every runner dispatches against the same starting collection (see
// dispatchRunners), so res carries the same sample identities as master,
// just possibly with different attributes, state, and outputs — unlike
// dispatcher.mergeOutcomes, which concatenates disjoint split shards, this
// merges same-identity samples attribute-by-attribute through the merge
// registry, keeping the first failure reason a sample accumulates.
func mergeRunnerResult(logger *slog.Logger, reg *modloader.Registry, master, res *sample.Collection) *sample.Collection {
	byID := make(map[string]*sample.Sample, len(master.Samples))
	for _, s := range master.Samples {
		byID[s.ID] = s
	}

	sampleNames := reg.Schema().Names(attrs.SampleScope)
	for _, incoming := range res.Samples {
		existing, ok := byID[incoming.ID]
		if !ok {
			master.Samples = append(master.Samples, incoming)
			byID[incoming.ID] = incoming
			continue
		}
		mergeSampleAttrs(logger, reg, existing, incoming, sampleNames)
		switch incoming.State() {
		case sample.Failed:
			existing.Fail(incoming.FailReason())
		case sample.Complete:
			existing.MarkDone()
		}
		existing.Outputs = append(existing.Outputs, incoming.Outputs...)
	}

	collectionNames := reg.Schema().Names(attrs.CollectionScope)
	for _, name := range collectionNames {
		merged, err := reg.Merges().Merge(attrs.CollectionScope, name, master.Attrs.Get(name), res.Attrs.Get(name))
		if err != nil {
			logger.Error(fmt.Sprintf("Unhandled exception when collecting results: %v", err))
			continue
		}
		if err := master.Attrs.Set(name, merged); err != nil {
			logger.Error(fmt.Sprintf("Unhandled exception when collecting results: %v", err))
		}
	}
	master.Outputs = append(master.Outputs, res.Outputs...)
	return master
}

func mergeSampleAttrs(logger *slog.Logger, reg *modloader.Registry, this, that *sample.Sample, names []string) {
	for _, name := range names {
		merged, err := reg.Merges().Merge(attrs.SampleScope, name, this.Attrs.Get(name), that.Attrs.Get(name))
		if err != nil {
			logger.Error(fmt.Sprintf("Unhandled exception when collecting results: %v", err))
			continue
		}
		if err := this.Attrs.Set(name, merged); err != nil {
			logger.Error(fmt.Sprintf("Unhandled exception when collecting results: %v", err))
		}
	}
}
