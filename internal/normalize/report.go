package normalize

import (
	"howett.net/plist"
)

// rewriteReport applies strip to every string value of the report and then
// replaces each entry of the top-level files array with resolve(entry). The
// document is re-encoded in the format it was read in. stripped is the
// number of rule matches removed; changed is the number of files entries
// whose value differs after resolve. out is nil when both are zero.
func rewriteReport(data []byte, strip func(string) (string, int), resolve func(string) string) (out []byte, stripped, changed int, err error) {
	var doc map[string]any
	format, err := plist.Unmarshal(data, &doc)
	if err != nil {
		return nil, 0, 0, err
	}
	for k, v := range doc {
		var n int
		doc[k], n = stripStrings(v, strip)
		stripped += n
	}

	if files, ok := doc["files"].([]any); ok {
		for i, f := range files {
			s, ok := f.(string)
			if !ok {
				continue
			}
			if r := resolve(s); r != s {
				files[i] = r
				changed++
			}
		}
	}
	if stripped == 0 && changed == 0 {
		return nil, 0, 0, nil
	}

	out, err = plist.MarshalIndent(doc, format, "\t")
	if err != nil {
		return nil, 0, 0, err
	}
	return out, stripped, changed, nil
}

// stripStrings rewrites every string nested in v. Dictionary keys are
// schema names and are left alone.
func stripStrings(v any, strip func(string) (string, int)) (any, int) {
	switch t := v.(type) {
	case string:
		return strip(t)
	case []any:
		total := 0
		for i, e := range t {
			var n int
			t[i], n = stripStrings(e, strip)
			total += n
		}
		return t, total
	case map[string]any:
		total := 0
		for k, e := range t {
			var n int
			t[k], n = stripStrings(e, strip)
			total += n
		}
		return t, total
	default:
		return v, 0
	}
}
