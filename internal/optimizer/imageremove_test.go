package optimizer

import (
	"strings"
	"testing"
)

func TestStripImageOpsRemovesNamedXObjects(t *testing.T) {
	src := "q 1 0 0 1 0 0 cm /Im1 Do Q /Fm1 Do /Im2 Do"
	out, changed := stripImageOps([]byte(src), map[string]bool{"Im1": true, "Im2": true})
	if !changed {
		t.Fatal("expected a change")
	}
	got := string(out)
	if strings.Contains(got, "Im1") || strings.Contains(got, "Im2") {
		t.Errorf("image invocations survived: %q", got)
	}
	if !strings.Contains(got, "/Fm1 Do") {
		t.Errorf("form invocation removed: %q", got)
	}
	if !strings.Contains(got, "cm") {
		t.Errorf("unrelated operators removed: %q", got)
	}
}

func TestStripImageOpsRemovesInlineImages(t *testing.T) {
	src := "BT (hello) Tj ET\nBI /W 1 /H 1 /BPC 8 /CS /G ID \xff EI\nq Q"
	out, changed := stripImageOps([]byte(src), nil)
	if !changed {
		t.Fatal("expected a change")
	}
	got := string(out)
	if strings.Contains(got, "BI") || strings.Contains(got, "EI") {
		t.Errorf("inline image survived: %q", got)
	}
	if !strings.Contains(got, "(hello) Tj") {
		t.Errorf("text removed: %q", got)
	}
}

func TestStripImageOpsLeavesCleanStreamsAlone(t *testing.T) {
	src := []byte("BT /F1 12 Tf (x) Tj ET")
	out, changed := stripImageOps(src, map[string]bool{"Im1": true})
	if changed {
		t.Error("reported a change on a stream without images")
	}
	if string(out) != string(src) {
		t.Errorf("stream rewritten: %q", out)
	}
}

func TestStripImageOpsKeepsTextShownAroundImages(t *testing.T) {
	src := "(before) Tj /Im1 Do (after) Tj"
	out, _ := stripImageOps([]byte(src), map[string]bool{"Im1": true})
	got := string(out)
	if !strings.Contains(got, "(before) Tj") || !strings.Contains(got, "(after) Tj") {
		t.Errorf("text lost: %q", got)
	}
}
