package core

import "testing"

func TestValidateKey(t *testing.T) {
	good := map[string]string{
		"prospects/p1/documents/d1/a.pdf": "prospects/p1/documents/d1/a.pdf",
		"a//b/./c":                        "a/b/c",
		"name..with..dots":                "name..with..dots",
	}
	for in, want := range good {
		got, err := ValidateKey(in)
		if err != nil || got != want {
			t.Fatalf("ValidateKey(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "  ", "/etc/passwd", "a/../../b", ".."} {
		if _, err := ValidateKey(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestDocumentKeyStripsDirectories(t *testing.T) {
	cases := map[string]string{
		"proposal.pdf":          "prospects/p1/documents/d1/proposal.pdf",
		"../../secret.txt":      "prospects/p1/documents/d1/secret.txt",
		`C:\\Users\\me\\x.docx`: "prospects/p1/documents/d1/x.docx",
		"":                      "prospects/p1/documents/d1/content",
	}
	for name, want := range cases {
		if got := DocumentKey("p1", "d1", name); got != want {
			t.Fatalf("DocumentKey(%q) = %q want %q", name, got, want)
		}
		if _, err := ValidateKey(DocumentKey("p1", "d1", name)); err != nil {
			t.Fatalf("document key for %q must validate: %v", name, err)
		}
	}
}

func TestCloneMetadata(t *testing.T) {
	if CloneMetadata(nil) != nil {
		t.Fatalf("nil in, nil out")
	}
	in := map[string]string{"k": "v"}
	out := CloneMetadata(in)
	out["k"] = "changed"
	if in["k"] != "v" {
		t.Fatalf("clone must not alias")
	}
}
