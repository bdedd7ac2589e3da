package model

import "testing"

func TestParseSeverity(t *testing.T) {
	for _, s := range []string{"mild", "moderate", "severe"} {
		sev, ok := ParseSeverity(s)
		if !ok {
			t.Fatalf("ParseSeverity(%q) not ok", s)
		}
		if sev.String() != s {
			t.Fatalf("round trip %q -> %q", s, sev.String())
		}
	}
	if _, ok := ParseSeverity("critical"); ok {
		t.Fatal("unknown severity accepted")
	}
}

func TestParseResponseAction(t *testing.T) {
	for _, s := range []string{"accept", "decline", "request_info"} {
		if _, ok := ParseResponseAction(s); !ok {
			t.Fatalf("ParseResponseAction(%q) not ok", s)
		}
	}
	if _, ok := ParseResponseAction("maybe"); ok {
		t.Fatal("unknown action accepted")
	}
}
