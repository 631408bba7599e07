package canon

import (
	"encoding/json"
	"testing"
)

func TestMarshalSortsKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}
	ga, err := Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	gb, err := Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ga) != string(gb) {
		t.Fatalf("key order changed output: %s vs %s", ga, gb)
	}
	if string(ga) != `{"a":2,"b":1}` {
		t.Fatalf("unexpected encoding: %s", ga)
	}
}

func TestMarshalIdempotent(t *testing.T) {
	v := map[string]any{"x": []any{1, 2, 3}, "nested": map[string]any{"z": 1.5, "a": "hi"}}
	first, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var roundtrip any
	if err := json.Unmarshal(first, &roundtrip); err != nil {
		t.Fatal(err)
	}
	second, err := Marshal(roundtrip)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("canonical(canonical(x)) != canonical(x): %s vs %s", first, second)
	}
}

func TestSHA256HexInvariantUnderKeyReorder(t *testing.T) {
	a := map[string]any{"seed": 42, "name": "q"}
	b := map[string]any{"name": "q", "seed": 42}
	ha, err := SHA256Hex(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := SHA256Hex(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("hash changed under key reordering: %s vs %s", ha, hb)
	}
}
