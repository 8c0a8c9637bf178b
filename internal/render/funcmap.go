package render

import (
	"encoding/json"
	"strings"
	"text/template"
)

// FuncMap returns shared alert template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"upper": strings.ToUpper,
		"title": titleCase,
		"json":  MarshalJSON,
	}
}

// ParseAlertTemplate parses one alert template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseAlertTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=zero").Parse(body)
}

// titleCase renders snake_case identifiers as readable labels.
// Params: raw identifier such as "disease_outbreak".
// Returns: space-separated capitalized label.
func titleCase(value string) string {
	parts := strings.Split(value, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
