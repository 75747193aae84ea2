package utils

import "testing"

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]string{"a", "b", "a", "c", "b"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("UniqueSlice = %v; want [a b c]", got)
	}
	if out := UniqueSlice([]int(nil)); len(out) != 0 {
		t.Fatalf("UniqueSlice(nil) = %v; want empty", out)
	}
}

func TestGetTypeName(t *testing.T) {
	type Sale struct{}
	if name := GetTypeName[Sale](); name != "Sale" {
		t.Fatalf("GetTypeName = %q; want Sale", name)
	}
}
