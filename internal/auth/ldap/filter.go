package ldap

import (
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
)

// DefaultFilter selects the entry whose cn equals the principal.
const DefaultFilter = "(cn=${username})"

// ExpandTemplate replaces ${name} placeholders with vars[name]. Unknown
// names expand to nothing. A $ that does not start a placeholder is copied
// as is. An unterminated ${ drops the rest of the template.
func ExpandTemplate(tmpl string, vars map[string]string) string {
	var sb strings.Builder
	sb.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		if tmpl[i] != '$' || i+1 >= len(tmpl) || tmpl[i+1] != '{' {
			sb.WriteByte(tmpl[i])
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+2:], '}')
		if end < 0 {
			break
		}
		name := tmpl[i+2 : i+2+end]
		sb.WriteString(vars[name])
		i += end + 3
	}
	return sb.String()
}

// BuildFilter expands tmpl for username. The value is filter-escaped and
// the result is wrapped in parentheses if the template omits them.
func BuildFilter(tmpl, username string) (string, error) {
	if tmpl == "" {
		tmpl = DefaultFilter
	}
	filter := ExpandTemplate(tmpl, map[string]string{
		"username": goldap.EscapeFilter(username),
	})
	filter = strings.TrimSpace(filter)
	if !strings.HasPrefix(filter, "(") {
		filter = "(" + filter + ")"
	}
	if _, err := goldap.CompileFilter(filter); err != nil {
		return "", fmt.Errorf("invalid search filter %q: %w", filter, err)
	}
	return filter, nil
}
