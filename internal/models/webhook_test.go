package models

import "testing"

func TestWebhookMatches(t *testing.T) {
	cases := []struct {
		events string
		kind   string
		want   bool
	}{
		{"*", "notification", true},
		{"*", "response", true},
		{"notification", "notification", true},
		{"notification", "response", false},
		{"notification,response", "response", true},
		{"notification, response", "response", true},
		{"response", "notification", false},
		{"", "notification", false},
	}
	for _, tc := range cases {
		wh := Webhook{Events: tc.events}
		if got := wh.Matches(tc.kind); got != tc.want {
			t.Errorf("Matches(%q) with events=%q: got %v, want %v", tc.kind, tc.events, got, tc.want)
		}
	}
}
