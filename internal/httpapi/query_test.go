package httpapi

import "testing"

func TestParseContextFiltersParam_Wildcard(t *testing.T) {
	cf, err := parseContextFiltersParam("*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cf.Wildcard {
		t.Fatal("expected top-level wildcard")
	}
}

func TestParseContextFiltersParam_ScenarioTwo(t *testing.T) {
	cf, err := parseContextFiltersParam("account:(john,jim),user:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cf.Wildcard {
		t.Fatal("did not expect top-level wildcard")
	}
	acct, ok := cf.Features["account"]
	if !ok {
		t.Fatal("expected an account entry")
	}
	if acct.Wildcard {
		t.Fatal("account entry should be a value list, not wildcard")
	}
	if !acct.Values["john"] || !acct.Values["jim"] {
		t.Fatalf("expected john and jim in account values, got %v", acct.Values)
	}
	user, ok := cf.Features["user"]
	if !ok || !user.Wildcard {
		t.Fatal("expected user entry to be a per-feature wildcard")
	}
}

func TestParseContextFiltersParam_Malformed(t *testing.T) {
	if _, err := parseContextFiltersParam("not-a-valid-entry"); err == nil {
		t.Fatal("expected an error for an entry with no colon")
	}
}

func TestParseVersion_Default(t *testing.T) {
	major, minor, err := parseVersion("")
	if err != nil || major != 1 || minor != 0 {
		t.Fatalf("parseVersion(\"\") = %d.%d, %v; want 1.0, nil", major, minor, err)
	}
}

func TestParseVersion_Explicit(t *testing.T) {
	major, minor, err := parseVersion("2.3")
	if err != nil || major != 2 || minor != 3 {
		t.Fatalf("parseVersion(\"2.3\") = %d.%d, %v; want 2.3, nil", major, minor, err)
	}
}

func TestParseVersion_Malformed(t *testing.T) {
	if _, _, err := parseVersion("not-a-version"); err == nil {
		t.Fatal("expected an error for a malformed version string")
	}
}

func TestParseFeatureValuesParam_Empty(t *testing.T) {
	fv, err := parseFeatureValuesParam("")
	if err != nil || len(fv) != 0 {
		t.Fatalf("parseFeatureValuesParam(\"\") = %v, %v; want empty map, nil", fv, err)
	}
}

func TestParseFeatureValuesParam_Pairs(t *testing.T) {
	fv, err := parseFeatureValuesParam("account:jim,user:admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fv["account"] != "jim" || fv["user"] != "admin" {
		t.Fatalf("unexpected parse result: %v", fv)
	}
}
