package orbit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/astro-stack/orbit/internal/orbitutil"
)

const placeholder = "?"

// Summary returns a one-line description of the entry, suitable for listings.
// Missing or null payload fields are rendered as "?".
func Summary(e *Entry) string {
	p := e.Payload()

	var s string
	switch e.Type() {
	case TypeRequest:
		s = fmt.Sprintf("%s %s → %s", field(p, "method"), field(p, "path"), field(p, "status_code"))
	case TypeQuery:
		s = orbitutil.Truncate(field(p, "sql"), 80)
		if b, _ := p["is_duplicate"].(bool); b {
			s += fmt.Sprintf(" (duplicate ×%s)", field(p, "duplicate_count"))
		}
		if b, _ := p["is_slow"].(bool); b {
			s += " (slow)"
		}
	case TypeLog:
		s = fmt.Sprintf("[%s] %s", field(p, "level"), orbitutil.Truncate(field(p, "message"), 100))
	case TypeException:
		s = fmt.Sprintf("%s: %s", field(p, "exception_type"), orbitutil.Truncate(field(p, "message"), 100))
	case TypeJob:
		s = fmt.Sprintf("%s (%s) %s", field(p, "job_name"), field(p, "queue"), field(p, "status"))
	case TypeCommand:
		s = fmt.Sprintf("%s → exit %s", field(p, "command"), field(p, "exit_code"))
	case TypeCache:
		s = fmt.Sprintf("%s %s", strings.ToUpper(field(p, "operation")), field(p, "key"))
		if hit, ok := p["hit"].(bool); ok {
			s += map[bool]string{true: " (hit)", false: " (miss)"}[hit]
		}
	case TypeModel:
		s = fmt.Sprintf("%s %s #%s", field(p, "model"), field(p, "action"), field(p, "pk"))
	case TypeHTTPClient:
		status := field(p, "status_code")
		if errText, ok := p["error"].(string); ok && errText != "" {
			status = "error"
		}
		s = fmt.Sprintf("%s %s → %s", field(p, "method"), field(p, "url"), status)
	case TypeMail:
		s = fmt.Sprintf("%s → %s", field(p, "subject"), field(p, "to"))
	case TypeSignal:
		s = fmt.Sprintf("%s → %s", field(p, "signal"), field(p, "sender"))
	case TypeRedis:
		s = fmt.Sprintf("%s %s", strings.ToUpper(field(p, "operation")), field(p, "key"))
	case TypeGate:
		s = fmt.Sprintf("%s %s: %s", field(p, "user"), field(p, "permission"), field(p, "result"))
	case TypeTransaction:
		s = fmt.Sprintf("%s (%s)", field(p, "status"), field(p, "database"))
	case TypeStorage:
		s = fmt.Sprintf("%s %s", strings.ToUpper(field(p, "operation")), field(p, "path"))
	default:
		s = string(e.Type())
	}

	if ms, ok := e.Duration(); ok {
		s += " " + orbitutil.HumanizeMillis(ms)
	}

	return s
}

// field renders the payload value for key as a string, or the placeholder.
func field(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case nil:
		return placeholder
	case string:
		if v == "" {
			return placeholder
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		strs := make([]string, 0, len(v))
		for _, x := range v {
			strs = append(strs, fmt.Sprint(x))
		}
		if len(strs) <= 0 {
			return placeholder
		}
		return strings.Join(strs, ", ")
	default:
		return fmt.Sprint(v)
	}
}
