package engine

// applyTransform shapes the gathered inputs per the node's transformation.
// passthrough (the default) forwards the input map untouched. merge flattens
// every predecessor's map output into a single level. extract keeps only the
// configured fields from the merged view.
func applyTransform(cfg TransformConfig, inputs map[string]interface{}) map[string]interface{} {
	switch cfg.Transformation {
	case "merge":
		return mergeInputs(inputs)
	case "extract":
		merged := mergeInputs(inputs)
		out := make(map[string]interface{}, len(cfg.Fields))
		for _, f := range cfg.Fields {
			if v, ok := merged[f]; ok {
				out[f] = v
			}
		}
		return out
	default: // passthrough
		return inputs
	}
}

func mergeInputs(inputs map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for key, v := range inputs {
		if m, ok := v.(map[string]interface{}); ok {
			for k, mv := range m {
				merged[k] = mv
			}
			continue
		}
		merged[key] = v
	}
	return merged
}
