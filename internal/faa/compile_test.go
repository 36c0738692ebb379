package faa

import (
	"strings"
	"testing"
)

// TestGlobDepthBoundRejected covers testable property 12: a watch-item path
// of 41 components is rejected by compilation without affecting the
// previously active set (the caller is responsible for discarding the
// Compile error and keeping the prior CompiledSet installed).
func TestGlobDepthBoundRejected(t *testing.T) {
	deep := strings.Repeat("/a", 41)
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"TooDeep": {Paths: []PathEntry{{Path: deep}}},
		},
	}

	if _, err := Compile(doc); err == nil {
		t.Fatalf("expected Compile to reject a %d-component path", countComponents(deep))
	}
}

func TestGlobDepthBoundAccepted(t *testing.T) {
	shallow := strings.Repeat("/a", 39)
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"OK": {Paths: []PathEntry{{Path: shallow}}},
		},
	}

	if _, err := Compile(doc); err != nil {
		t.Fatalf("Compile rejected a %d-component path: %v", countComponents(shallow), err)
	}
}

func TestCompileRejectsBadName(t *testing.T) {
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"1bad": {Paths: []PathEntry{{Path: "/tmp/x"}}},
		},
	}
	if _, err := Compile(doc); err == nil {
		t.Fatalf("expected Compile to reject a watch item name starting with a digit")
	}
}

func TestCompileRejectsEmptyPaths(t *testing.T) {
	doc := Document{
		Version:    "1",
		WatchItems: map[string]WatchItemDoc{"Empty": {}},
	}
	if _, err := Compile(doc); err == nil {
		t.Fatalf("expected Compile to reject a watch item with no Paths")
	}
}

func TestCompileRejectsWildcardSigningIDWithoutTeamID(t *testing.T) {
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"W": {
				Paths:     []PathEntry{{Path: "/tmp/x"}},
				Processes: []ProcessDoc{{SigningID: "com.example.*"}},
			},
		},
	}
	if _, err := Compile(doc); err == nil {
		t.Fatalf("expected Compile to reject a wildcarded SigningID with no TeamID/PlatformBinary")
	}
}

func TestCompileAcceptsWildcardSigningIDWithPlatformBinary(t *testing.T) {
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"W": {
				Paths: []PathEntry{{Path: "/tmp/x"}},
				Processes: []ProcessDoc{{
					SigningID:      "com.apple.*",
					PlatformBinary: true,
				}},
			},
		},
	}
	if _, err := Compile(doc); err != nil {
		t.Fatalf("Compile: %v", err)
	}
}

func TestCompileOneBadItemFailsWholeReload(t *testing.T) {
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"Good": {Paths: []PathEntry{{Path: "/tmp/x"}}},
			"Bad":  {},
		},
	}
	if _, err := Compile(doc); err == nil {
		t.Fatalf("expected a single invalid watch item to fail the whole Compile call")
	}
}
