package template

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Extract reads one value per rule from a JSON body. Rules map a variable
// name to a JSONPath such as $.auth.token, $.items[0].id or $.items[*].id.
// Every missing path is reported, not only the first.
func Extract(body []byte, rules map[string]string) (map[string]any, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON in response body")
	}

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]any, len(rules))
	var missing []string
	for _, name := range names {
		v := gjson.GetBytes(body, convertJSONPath(rules[name]))
		if !v.Exists() {
			missing = append(missing, name+" ("+rules[name]+")")
			continue
		}
		values[name] = v.Value()
	}

	if len(missing) > 0 {
		return nil, errors.Errorf("paths not found for %s", strings.Join(missing, ", "))
	}
	return values, nil
}

// ExtractInto extracts values from body and stores them in vars.
func ExtractInto(body []byte, rules map[string]string, vars *Vars) error {
	values, err := Extract(body, rules)
	if err != nil {
		return err
	}
	vars.Merge(values)
	return nil
}

// convertJSONPath rewrites JSONPath into gjson syntax: the leading $ is
// dropped, [n] becomes .n and [*] becomes .#.
func convertJSONPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")

	var b strings.Builder
	for {
		open := strings.IndexByte(path, '[')
		if open == -1 {
			break
		}
		end := strings.IndexByte(path[open:], ']')
		if end == -1 {
			break
		}
		index := path[open+1 : open+end]
		b.WriteString(path[:open])
		if index == "*" {
			b.WriteString(".#")
		} else {
			b.WriteString("." + index)
		}
		path = path[open+end+1:]
	}
	b.WriteString(path)
	return b.String()
}
