package fhirsnapshot

import (
	"testing"
)

func TestFHIRVersion_String(t *testing.T) {
	tests := []struct {
		version FHIRVersion
		want    string
	}{
		{R4, "R4"},
		{R4B, "R4B"},
		{R5, "R5"},
	}

	for _, tt := range tests {
		if got := tt.version.String(); got != tt.want {
			t.Errorf("%v.String() = %q; want %q", tt.version, got, tt.want)
		}
	}
}

func TestFHIRVersion_IsValid(t *testing.T) {
	tests := []struct {
		version FHIRVersion
		want    bool
	}{
		{R4, true},
		{R4B, true},
		{R5, true},
		{"R3", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := tt.version.IsValid(); got != tt.want {
			t.Errorf("%v.IsValid() = %v; want %v", tt.version, got, tt.want)
		}
	}
}

func TestFHIRVersion_CorePackage(t *testing.T) {
	ref, ok := R4.CorePackage()
	if !ok {
		t.Fatal("R4.CorePackage() not found")
	}
	if got := ref.String(); got != "hl7.fhir.r4.core#4.0.1" {
		t.Errorf("R4.CorePackage() = %q; want hl7.fhir.r4.core#4.0.1", got)
	}
	if _, ok := FHIRVersion("R3").CorePackage(); ok {
		t.Error("R3.CorePackage() should not be found")
	}
	if got := R5.Release(); got != "5.0.0" {
		t.Errorf("R5.Release() = %q; want 5.0.0", got)
	}
}

func TestParseFHIRVersion(t *testing.T) {
	tests := []struct {
		in   string
		want FHIRVersion
		ok   bool
	}{
		{"R4", R4, true},
		{"4.0.1", R4, true},
		{"4.3.0", R4B, true},
		{"5.0.0", R5, true},
		{"3.0.2", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseFHIRVersion(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseFHIRVersion(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
