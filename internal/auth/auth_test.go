package auth

import (
	"testing"

	"classroom-bot/internal/settings"
)

func TestServiceBasic(t *testing.T) {
	svc := New([]settings.Role{{ID: "10", Name: "Tutor"}, {ID: "20", Name: "Instructor"}})

	if !svc.IsAuthorized([]string{"20", "30"}) {
		t.Fatalf("overlapping roles not authorized")
	}
	if svc.IsAuthorized([]string{"30", "40"}) {
		t.Fatalf("disjoint roles authorized")
	}
	if svc.IsAuthorized(nil) {
		t.Fatalf("no roles authorized")
	}
}

func TestService_SkipsMalformedEntries(t *testing.T) {
	svc := New([]settings.Role{{ID: "abc", Name: "Broken"}, {ID: "", Name: "Empty"}, {ID: "10", Name: "Tutor"}})

	lst := svc.List()
	if len(lst) != 1 || lst[0].ID != "10" {
		t.Fatalf("want only the valid role, got %+v", lst)
	}
	if !svc.IsAuthorized([]string{"10"}) {
		t.Fatalf("valid role lost")
	}
	if svc.IsAuthorized([]string{"abc"}) {
		t.Fatalf("malformed role matched")
	}
}

func TestService_Replace(t *testing.T) {
	svc := New([]settings.Role{{ID: "10"}})
	svc.Replace([]settings.Role{{ID: "20", Name: "New"}})

	if svc.IsAuthorized([]string{"10"}) {
		t.Fatalf("old role still allowed")
	}
	if !svc.IsAuthorized([]string{"20"}) {
		t.Fatalf("replace not effective")
	}
}

func TestService_LargeSnowflakes(t *testing.T) {
	svc := New([]settings.Role{{ID: "1187383452102168606"}})
	if !svc.IsAuthorized([]string{"1187383452102168606"}) {
		t.Fatalf("snowflake id not matched")
	}
}
