// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package anki

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFieldChecksum(t *testing.T) {
	// sha1("hello") = aaf4c61d..., first 8 hex digits parsed base 16.
	if got := FieldChecksum("hello"); got != 2868168221 {
		t.Fatalf("checksum spot-check failed. Expected 2868168221, got %d", got)
	}
	if got := FieldChecksum(""); got != 3661210606 {
		t.Fatalf("empty-field checksum spot-check failed. Expected 3661210606, got %d", got)
	}
	if FieldChecksum("hello") == FieldChecksum("olleh") {
		t.Fatal("different inputs should not collide on the spot-check pair")
	}
}

func TestJoinSplitFields(t *testing.T) {
	joined := JoinFields([]string{"front", "back"})
	if joined != "front\x1fback" {
		t.Fatalf("Unexpected join result: %q", joined)
	}
	fields := SplitFields(joined)
	if len(fields) != 2 || fields[0] != "front" || fields[1] != "back" {
		t.Fatalf("Unexpected split result: %v", fields)
	}
}

func TestNewGUID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		g := NewGUID()
		if len(g) != 10 {
			t.Fatalf("Expected 10-char guid, got %q", g)
		}
		if strings.ContainsAny(g, "\x1f\"") {
			t.Fatalf("guid contains forbidden characters: %q", g)
		}
		if seen[g] {
			t.Fatalf("guid collision after %d draws: %q", i, g)
		}
		seen[g] = true
	}
}

func TestIDScanAndJSON(t *testing.T) {
	var id ID
	if err := id.Scan(int64(1342697561419)); err != nil {
		t.Fatalf("Error scanning id: %s", err)
	}
	if id != 1342697561419 {
		t.Fatalf("Unexpected id: %d", id)
	}
	// Anki encodes blob map keys as strings; both forms must parse.
	for _, raw := range []string{`1342697561419`, `"1342697561419"`} {
		var j ID
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			t.Fatalf("Error unmarshaling %s: %s", raw, err)
		}
		if j != 1342697561419 {
			t.Fatalf("Unexpected id from %s: %d", raw, j)
		}
	}
}

func TestEaseValid(t *testing.T) {
	for ease, want := range map[Ease]bool{0: false, 1: true, 4: true, 5: false} {
		if ease.Valid() != want {
			t.Fatalf("Ease(%d).Valid() = %v, want %v", ease, !want, want)
		}
	}
}
