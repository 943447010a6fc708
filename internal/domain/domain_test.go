package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"dronecoord/internal/domain"
)

func TestTagsHasIgnoresOrderAndCase(t *testing.T) {
	cases := []struct {
		tags domain.Tags
		item string
		want bool
	}{
		{domain.Tags{"Thermal", "mapping"}, "thermal", true},
		{domain.Tags{"thermal", "mapping"}, "mapping", true},
		{domain.Tags{"zoom", "lidar", "Mapping "}, " MAPPING", true},
		{domain.NewTags("rgb", "thermal"), "lidar", false},
		{nil, "thermal", false},
	}
	for _, tc := range cases {
		if got := tc.tags.Has(tc.item); got != tc.want {
			t.Fatalf("%v.Has(%q) = %v, want %v", tc.tags, tc.item, got, tc.want)
		}
	}
}

func TestTagsCovers(t *testing.T) {
	have := domain.Tags{"thermal", "mapping", "DGCA"}
	if !have.Covers(domain.Tags{"Mapping", "dgca"}) {
		t.Fatalf("expected %v to cover mapping and dgca", have)
	}
	if !have.Covers(domain.Tags{"", " "}) {
		t.Fatalf("blank requirements must be ignored")
	}
	missing := have.Missing(domain.Tags{"lidar", "thermal"})
	if len(missing) != 1 || missing[0] != "lidar" {
		t.Fatalf("missing = %v, want [lidar]", missing)
	}
}

func TestTagsUnmarshalJSONNormalizes(t *testing.T) {
	var p domain.Pilot
	if err := json.Unmarshal([]byte(`{"pilot_id":"P001","skills":["thermal","Mapping","thermal"],"certifications":"DGCA, night ops"}`), &p); err != nil {
		t.Fatalf("decode pilot: %v", err)
	}
	want := domain.Tags{"mapping", "thermal"}
	if len(p.Skills) != len(want) || p.Skills[0] != want[0] || p.Skills[1] != want[1] {
		t.Fatalf("skills = %v, want %v", p.Skills, want)
	}
	if !p.Certifications.Has("night ops") || !p.Certifications.Has("dgca") {
		t.Fatalf("certifications = %v", p.Certifications)
	}
	if err := json.Unmarshal([]byte(`{"skills":42}`), &p); err == nil {
		t.Fatalf("expected an error for a numeric skills field")
	}
}

func TestProposalTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.ProposalState
		ok       bool
	}{
		{domain.StateProposed, domain.StateConfirmed, true},
		{domain.StateProposed, domain.StateDiscarded, true},
		{domain.StateConfirmed, domain.StateApplied, true},
		{domain.StateConfirmed, domain.StateProposed, true},
		// a confirm whose outcome was never recorded may run again
		{domain.StateConfirmed, domain.StateConfirmed, true},
		{domain.StateProposed, domain.StateApplied, false},
		{domain.StateApplied, domain.StateConfirmed, false},
		{domain.StateDiscarded, domain.StateConfirmed, false},
		{domain.StateConfirmed, domain.StateDiscarded, false},
	}
	for _, tc := range cases {
		got, err := tc.from.Transition(tc.to)
		if tc.ok {
			if err != nil || got != tc.to {
				t.Fatalf("%s -> %s: got %s, %v", tc.from, tc.to, got, err)
			}
			continue
		}
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected invalid transition, got %v", tc.from, tc.to, err)
		}
		if got != tc.from {
			t.Fatalf("%s -> %s: state changed to %s on error", tc.from, tc.to, got)
		}
	}
}
