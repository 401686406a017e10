package signbank

import (
	"fmt"
)

// regionOption decodes the optional "regions" source option: a map from a
// state-map image path to the region tags it implies. YAML hands the nested
// values over as untyped maps and lists.
func regionOption(options map[string]any) (map[string][]string, error) {
	raw, ok := options["regions"]
	if !ok {
		return nil, nil
	}
	rawMap, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("regions option: want a map of image path to tag list, got %T", raw)
	}

	regions := make(map[string][]string, len(rawMap))
	for path, rawTags := range rawMap {
		list, ok := rawTags.([]any)
		if !ok {
			return nil, fmt.Errorf("regions option %q: want a tag list, got %T", path, rawTags)
		}
		tags := make([]string, 0, len(list))
		for _, rawTag := range list {
			tag, ok := rawTag.(string)
			if !ok {
				return nil, fmt.Errorf("regions option %q: non-string tag %v", path, rawTag)
			}
			tags = append(tags, tag)
		}
		regions[path] = tags
	}
	return regions, nil
}
