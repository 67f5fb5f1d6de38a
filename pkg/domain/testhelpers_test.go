package domain

import "testing"

const (
	typeAccount EntityType = "Account"
	typeTag     EntityType = "Tag"
)

type account struct {
	Base
	Owner   string   `json:"owner"`
	Balance int      `json:"balance"`
	Labels  []string `json:"labels,omitempty"`
	Parent  *int64   `json:"parent_id,omitempty"`
	note    string
}

func (*account) EntityType() EntityType { return typeAccount }

type tag struct {
	StringBase
	Label string
}

func (*tag) EntityType() EntityType { return typeTag }

// mustNoError simplifies tests that expect helpers to succeed.
func mustNoError(t *testing.T, label string, err error) {
	t.Helper()
	if err != nil {
		if label == "" {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Fatalf("%s: %v", label, err)
	}
}
