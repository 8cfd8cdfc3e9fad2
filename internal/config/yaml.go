package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlSectionKeys maps nested YAML sections onto the flat key space. The b2
// block keeps the layout used by the dashboard's config.yaml.
var yamlSectionKeys = map[string]map[string]string{
	"b2": {
		"remote":          "RCLONE_REMOTE",
		"bucket":          "B2_BUCKET",
		"prefix":          "B2_PREFIX",
		"account_id":      "B2_ACCOUNT_ID",
		"application_key": "B2_APPLICATION_KEY",
		"keep":            "KEEP_REMOTE",
		"rclone_config":   "RCLONE_CONFIG",
	},
	"archive": {
		"dir":          "ARCHIVE_DIR",
		"cache_dir":    "CACHE_DIR",
		"prefix":       "ARCHIVE_PREFIX",
		"sources":      "SOURCE_PATHS",
		"compression":  "COMPRESSION_TYPE",
		"level":        "COMPRESSION_LEVEL",
		"retain_local": "RETAIN_LOCAL",
	},
}

// yamlSectionAliases are older spellings. The canonical key wins when both
// are present.
var yamlSectionAliases = map[string]map[string]string{
	"b2": {
		"prefix_configs": "prefix",
	},
}

func parseYAMLFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	return parseYAML(data)
}

func parseYAML(data []byte) (map[string]string, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML configuration: %w", err)
	}

	raw := make(map[string]string)
	// Sorted so that a flat key always wins over a section alias regardless of map order.
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		_, si := doc[keys[i]].(map[string]interface{})
		_, sj := doc[keys[j]].(map[string]interface{})
		if si != sj {
			return si
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		switch v := doc[key].(type) {
		case map[string]interface{}:
			flattenSection(raw, strings.ToLower(key), v)
		default:
			raw[strings.ToUpper(key)] = yamlScalar(v)
		}
	}
	return raw, nil
}

func flattenSection(raw map[string]string, section string, values map[string]interface{}) {
	subs := make([]string, 0, len(values))
	for sub := range values {
		subs = append(subs, sub)
	}
	sort.Strings(subs)

	canonical := make(map[string]bool)
	for _, sub := range subs {
		name := strings.ToLower(sub)
		if _, alias := yamlSectionAliases[section][name]; !alias {
			canonical[name] = true
		}
	}
	for _, sub := range subs {
		name := strings.ToLower(sub)
		if target, alias := yamlSectionAliases[section][name]; alias {
			if canonical[target] {
				continue
			}
			name = target
		}
		flat, ok := yamlSectionKeys[section][name]
		if !ok {
			flat = strings.ToUpper(section + "_" + sub)
		}
		raw[flat] = yamlScalar(values[sub])
	}
}

func yamlScalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, yamlScalar(item))
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprint(t)
	}
}
