package modloader

import (
	"fmt"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/output"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/sample"
)

// CollectionToPayload projects a Collection into the plain-map shape
// that crosses the yaegi boundary: {tag, attrs, outputs, samples: [...]}.
func CollectionToPayload(c *sample.Collection) Payload {
	rec := c.ToRecord()
	samples := make([]any, len(rec.Samples))
	for i, s := range rec.Samples {
		samples[i] = sampleRecordToPayload(s)
	}
	return Payload{
		"tag":     rec.Tag,
		"attrs":   rec.Attrs,
		"outputs": outputsToPayload(rec.Outputs),
		"samples": samples,
	}
}

func sampleRecordToPayload(r sample.Record) Payload {
	return Payload{
		"id":          r.ID,
		"files":       r.Files,
		"state":       r.State.String(),
		"fail_reason": r.FailReason,
		"attrs":       r.Attrs,
		"outputs":     outputsToPayload(r.Outputs),
	}
}

func outputsToPayload(outs []output.Output) []any {
	out := make([]any, len(outs))
	for i, o := range outs {
		out[i] = Payload{
			"src":        o.Src,
			"dst":        o.Dst,
			"checkpoint": o.Checkpoint,
			"optional":   o.Optional,
		}
	}
	return out
}

// PayloadToCollection is the inverse of CollectionToPayload, binding the
// rebuilt collection's attribute bags to schema.
func PayloadToCollection(p Payload, schema *attrs.Schema) (*sample.Collection, error) {
	tag, _ := p["tag"].(string)
	attrsMap, _ := p["attrs"].(map[string]any)
	outs, err := payloadToOutputs(p["outputs"])
	if err != nil {
		return nil, err
	}

	rawSamples, _ := p["samples"].([]any)
	records := make([]sample.Record, 0, len(rawSamples))
	for i, raw := range rawSamples {
		sp, ok := raw.(Payload)
		if !ok {
			m, ok2 := raw.(map[string]any)
			if !ok2 {
				return nil, fmt.Errorf("modloader: sample %d is not a map", i)
			}
			sp = m
		}
		rec, err := payloadToSampleRecord(sp)
		if err != nil {
			return nil, fmt.Errorf("modloader: sample %d: %w", i, err)
		}
		records = append(records, rec)
	}

	c, err := sample.CollectionFromRecord(sample.CollectionRecord{
		Tag:     tag,
		Samples: records,
		Attrs:   attrsMap,
		Outputs: outs,
	}, schema)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func payloadToSampleRecord(p Payload) (sample.Record, error) {
	id, _ := p["id"].(string)
	filesRaw, _ := p["files"].([]any)
	files := make([]string, 0, len(filesRaw))
	for _, f := range filesRaw {
		if s, ok := f.(string); ok {
			files = append(files, s)
		}
	}
	if sl, ok := p["files"].([]string); ok {
		files = sl
	}

	stateStr, _ := p["state"].(string)
	state, err := parseState(stateStr)
	if err != nil {
		return sample.Record{}, err
	}

	failReason, _ := p["fail_reason"].(string)
	attrsMap, _ := p["attrs"].(map[string]any)
	outs, err := payloadToOutputs(p["outputs"])
	if err != nil {
		return sample.Record{}, err
	}

	return sample.Record{
		ID:         id,
		Files:      files,
		State:      state,
		FailReason: failReason,
		Attrs:      attrsMap,
		Outputs:    outs,
	}, nil
}

func parseState(s string) (sample.State, error) {
	switch s {
	case "", "pending":
		return sample.Pending, nil
	case "complete":
		return sample.Complete, nil
	case "failed":
		return sample.Failed, nil
	default:
		return sample.Pending, fmt.Errorf("modloader: unknown sample state %q", s)
	}
}

func payloadToOutputs(raw any) ([]output.Output, error) {
	items, _ := raw.([]any)
	out := make([]output.Output, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			if p, ok2 := item.(Payload); ok2 {
				m = p
			} else {
				return nil, fmt.Errorf("modloader: output %d is not a map", i)
			}
		}
		src, _ := m["src"].(string)
		dst, _ := m["dst"].(string)
		checkpoint, _ := m["checkpoint"].(string)
		optional, _ := m["optional"].(bool)
		out = append(out, output.Output{Src: src, Dst: dst, Checkpoint: checkpoint, Optional: optional})
	}
	return out, nil
}
