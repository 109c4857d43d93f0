package membus

import "testing"

func TestSubjectMatches(t *testing.T) {
	cases := []struct {
		pattern, subject string
		want             bool
	}{
		{"rpc.order.create_order", "rpc.order.create_order", true},
		{"rpc.order.create_order", "rpc.order.cancel_order", false},
		{"events.config.*", "events.config.changed", true},
		{"events.config.*", "events.config.changed.extra", false},
		{"events.market.>", "events.market.data", true},
		{"events.market.>", "events.market.data.tick", true},
		{"events.market.>", "events.pricing.data", false},
		{"*.order.*", "rpc.order.create_order", true},
	}
	for _, tc := range cases {
		got := subjectMatches(tc.pattern, tc.subject)
		if got != tc.want {
			t.Errorf("subjectMatches(%q, %q) = %v, want %v", tc.pattern, tc.subject, got, tc.want)
		}
	}
}
