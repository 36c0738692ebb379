package faa

import "testing"

func compileDocOrFatal(t *testing.T, doc Document) *CompiledSet {
	t.Helper()
	cs, err := Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return cs
}

// TestLongestMatchTable covers testable property 6: given overlapping
// Data-centric rules at different specificities, the most specific path
// match wins regardless of declaration order.
func TestLongestMatchTable(t *testing.T) {
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"R1": {Paths: []PathEntry{{Path: "/tmp/foo", IsPrefix: true}}},
			"R2": {Paths: []PathEntry{{Path: "/tmp/foo.txt"}}},
			"R3": {Paths: []PathEntry{{Path: "/tmp", IsPrefix: true}}},
		},
	}
	cs := compileDocOrFatal(t, doc)
	e := NewEngine()
	e.Reload(cs)

	cases := []struct {
		path string
		want string
	}{
		{"/tmp/foo", "R1"},
		{"/tmp/foo/bar", "R1"},
		{"/tmp/bar", "R3"},
		{"/tmp/foo.txt", "R2"},
		{"/tmp/foo.txt.tmp", "R1"},
		{"/foo", ""},
	}

	for _, tc := range cases {
		item, viaProcess := e.selectRule(e.Current(), PathTarget{Path: tc.path}, ProcessFacts{})
		if viaProcess {
			t.Errorf("path %q: selectRule unexpectedly matched via process", tc.path)
		}
		got := ""
		if item != nil {
			got = item.Name
		}
		if got != tc.want {
			t.Errorf("path %q: selected rule = %q, want %q", tc.path, got, tc.want)
		}
	}
}

// TestReadBypass covers testable property 7: AllowReadAccess permits a
// read-only open of a matched path even by an out-of-list process, while a
// write-open by that same process is still subject to membership.
func TestReadBypass(t *testing.T) {
	auditFalse := false
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"Secrets": {
				Paths: []PathEntry{{Path: "/etc/secrets/*"}},
				Options: OptionsDoc{
					AllowReadAccess: true,
					AuditOnly:       &auditFalse,
				},
				Processes: []ProcessDoc{{TeamID: "ALLOWED1"}},
			},
		},
	}
	cs := compileDocOrFatal(t, doc)
	e := NewEngine()
	e.Reload(cs)

	outsider := ProcessFacts{TeamID: "OTHER", PID: 100, StartedAt: 1}

	dec, rec, ok := e.Evaluate(PathTarget{Path: "/etc/secrets/key", ReadOnly: true}, outsider)
	if !ok || dec != Allow || rec != nil {
		t.Fatalf("read-only open by out-of-list process: got %v, %v, %v; want Allow, nil, true", dec, rec, ok)
	}

	dec, rec, ok = e.Evaluate(PathTarget{Path: "/etc/secrets/key", ReadOnly: false}, outsider)
	if !ok || dec != Deny || rec == nil {
		t.Fatalf("write open by out-of-list process: got %v, %v, %v; want Deny, non-nil, true", dec, rec, ok)
	}
}

// TestAuditOnlyScenario covers spec scenario S4: an AuditOnly rule records
// an AUDIT event but still allows the access.
func TestAuditOnlyScenario(t *testing.T) {
	auditTrue := true
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"Cookies": {
				Paths: []PathEntry{{Path: "/Users/*/Library/Cookies"}},
				Options: OptionsDoc{
					RuleType:  "PathsWithAllowedProcesses",
					AuditOnly: &auditTrue,
				},
				Processes: []ProcessDoc{{TeamID: "EQHXZ8M8AV"}},
			},
		},
	}
	cs := compileDocOrFatal(t, doc)
	e := NewEngine()
	e.Reload(cs)

	other := ProcessFacts{TeamID: "OTHER", PID: 200, StartedAt: 1}
	dec, rec, ok := e.Evaluate(PathTarget{Path: "/Users/bob/Library/Cookies"}, other)
	if !ok {
		t.Fatalf("expected a matching WatchItem")
	}
	if dec != Audit {
		t.Errorf("decision = %v, want Audit", dec)
	}
	if rec == nil || rec.WatchItemName != "Cookies" || rec.Decision != Audit {
		t.Errorf("record = %+v, want WatchItemName=Cookies Decision=Audit", rec)
	}
}

func TestProcessAffinityPinsAcrossPaths(t *testing.T) {
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"Procs": {
				Paths:     []PathEntry{{Path: "/var/data/*"}},
				Options:   OptionsDoc{RuleType: "ProcessesWithAllowedPaths"},
				Processes: []ProcessDoc{{TeamID: "TEAM1"}},
			},
		},
	}
	cs := compileDocOrFatal(t, doc)
	e := NewEngine()
	e.Reload(cs)

	proc := ProcessFacts{TeamID: "TEAM1", PID: 7, StartedAt: 42}
	item, viaProcess := e.selectRule(e.Current(), PathTarget{Path: "/var/data/x"}, proc)
	if item == nil || !viaProcess {
		t.Fatalf("expected process-centric match")
	}

	// Same process, now requesting a path outside the rule's set: selectRule
	// must still return the pinned rule rather than falling through.
	item2, viaProcess2 := e.selectRule(e.Current(), PathTarget{Path: "/etc/passwd"}, proc)
	if item2 != item || !viaProcess2 {
		t.Errorf("expected process affinity to keep the same rule pinned")
	}
}

func TestMuteSetSuppressesUnrelatedAccess(t *testing.T) {
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"R": {Paths: []PathEntry{{Path: "/etc/hosts"}}},
		},
	}
	cs := compileDocOrFatal(t, doc)
	e := NewEngine()
	e.Reload(cs)

	muted := ProcessFacts{BinaryPath: "/usr/libexec/trustd", PID: 9, StartedAt: 1}
	dec, rec, ok := e.Evaluate(PathTarget{Path: "/etc/hosts"}, muted)
	if ok || dec != Allow || rec != nil {
		t.Errorf("mute set entry should suppress evaluation entirely: got %v, %v, %v", dec, rec, ok)
	}
}

func TestIsWatchedPath(t *testing.T) {
	doc := Document{
		Version: "1",
		WatchItems: map[string]WatchItemDoc{
			"R": {Paths: []PathEntry{{Path: "/opt/guarded/*"}}},
		},
	}
	cs := compileDocOrFatal(t, doc)
	e := NewEngine()
	e.Reload(cs)

	if !e.IsWatchedPath("/opt/guarded/file") {
		t.Errorf("expected /opt/guarded/file to be watched")
	}
	if e.IsWatchedPath("/opt/unrelated/file") {
		t.Errorf("expected /opt/unrelated/file to be unwatched")
	}
}
