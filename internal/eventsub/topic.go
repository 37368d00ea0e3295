package eventsub

import (
	"sort"
	"strings"
)

// Topic names a kind of event plus the scoping parameters a consumer wants
// to receive, e.g. type "stream.online" with condition
// {"broadcaster_user_id": "44322889"}.
type Topic struct {
	Type      string
	Version   string
	Condition map[string]string
}

// LogicalID derives the stable identifier used for idempotent subscribe
// calls. Condition keys are sorted so the same topic always yields the same
// ID regardless of map iteration order.
func (t Topic) LogicalID() string {
	keys := make([]string, 0, len(t.Condition))
	for k := range t.Condition {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(t.Type)
	b.WriteByte('.')
	b.WriteString(t.Version)
	for _, k := range keys {
		b.WriteByte('.')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(t.Condition[k])
	}
	return b.String()
}
