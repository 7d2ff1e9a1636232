package headers

import (
	"fmt"
	"strings"
)

// parseKeyVals splits a list of key=value pairs separated by sep.
// Values can be enclosed in double quotes.
func parseKeyVals(v string, sep byte) (map[string]string, error) {
	ret := make(map[string]string)
	rest := v

	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return ret, nil
		}

		eq := strings.IndexByte(rest, '=')
		if eq < 0 || strings.IndexByte(rest[:eq], sep) >= 0 {
			return nil, fmt.Errorf("unable to read key (%v)", v)
		}

		key := strings.TrimSpace(rest[:eq])
		rest = rest[eq+1:]

		var val string

		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("apexes not closed (%v)", v)
			}
			val = rest[1 : end+1]
			rest = rest[end+2:]
		} else {
			end := strings.IndexByte(rest, sep)
			if end < 0 {
				end = len(rest)
			}
			val = rest[:end]
			rest = rest[end:]
		}

		ret[key] = val
		rest = strings.TrimPrefix(rest, string(sep))
	}
}
