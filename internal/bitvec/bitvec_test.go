// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package bitvec

import (
	"testing"
)

func TestZero(t *testing.T) {
	var v V
	if v.w != nil {
		t.Fatalf("v.w:\nhave %v\nwant nil", v.w)
	}
	if n := v.Len(); n != 0 {
		t.Fatalf("v.Len:\nhave %d\nwant 0", n)
	}
	if n := v.Rem(); n != 0 {
		t.Fatalf("v.Rem:\nhave %d\nwant 0", n)
	}
	if _, ok := v.Search(); ok {
		t.Fatal("v.Search: unexpected success")
	}
	if _, ok := v.SearchRange(2); ok {
		t.Fatal("v.SearchRange: unexpected success")
	}
}

func TestGrow(t *testing.T) {
	var v V
	for _, x := range [...]struct {
		nword, wantLen int
	}{
		{1, 64},
		{2, 192},
		{0, 192},
		{-1, 192},
		{5, 512},
	} {
		if n, i := v.Len(), v.Grow(x.nword); n != i {
			t.Fatalf("v.Grow:\nhave %d\nwant %d", i, n)
		}
		if n := v.Len(); n != x.wantLen {
			t.Fatalf("v.Grow: Len:\nhave %d\nwant %d", n, x.wantLen)
		}
		if n := v.Rem(); n != x.wantLen {
			t.Fatalf("v.Grow: Rem:\nhave %d\nwant %d", n, x.wantLen)
		}
	}
}

func TestSetUnset(t *testing.T) {
	var v V
	v.Grow(2)
	v.Set(3)
	v.Set(3)
	v.Set(64)
	if !v.IsSet(3) || !v.IsSet(64) {
		t.Fatal("v.IsSet: have false\nwant true")
	}
	if n := v.Rem(); n != 126 {
		t.Fatalf("v.Rem:\nhave %d\nwant 126", n)
	}
	v.Unset(3)
	v.Unset(3)
	v.Unset(100)
	if v.IsSet(3) {
		t.Fatal("v.IsSet: have true\nwant false")
	}
	if n := v.Rem(); n != 127 {
		t.Fatalf("v.Rem:\nhave %d\nwant 127", n)
	}
	v.SetRange(10, 60)
	// Bit 64 was already set.
	if n := v.Rem(); n != 68 {
		t.Fatalf("v.SetRange: Rem:\nhave %d\nwant 68", n)
	}
	v.UnsetRange(10, 60)
	if n := v.Rem(); n != 128 {
		t.Fatalf("v.UnsetRange: Rem:\nhave %d\nwant 128", n)
	}
	v.Clear()
	if n := v.Rem(); n != 128 {
		t.Fatalf("v.Clear: Rem:\nhave %d\nwant 128", n)
	}
}

func TestSearch(t *testing.T) {
	var v V
	v.Grow(3)
	check := func(want int) {
		t.Helper()
		i, ok := v.Search()
		switch {
		case want < 0 && ok:
			t.Fatalf("v.Search:\nhave %d, true\nwant _, false", i)
		case want >= 0 && !ok:
			t.Fatalf("v.Search:\nhave _, false\nwant %d, true", want)
		case want >= 0 && i != want:
			t.Fatalf("v.Search:\nhave %d\nwant %d", i, want)
		}
	}
	check(0)
	v.Set(0)
	check(1)
	v.SetRange(1, 70)
	check(71)
	v.Unset(5)
	check(5)
	v.SetRange(0, v.Len())
	check(-1)
	v.Unset(191)
	check(191)
}

func TestSearchRange(t *testing.T) {
	var v V
	v.Grow(4)
	check := func(n, want int) {
		t.Helper()
		i, ok := v.SearchRange(n)
		switch {
		case want < 0 && ok:
			t.Fatalf("v.SearchRange(%d):\nhave %d, true\nwant _, false", n, i)
		case want >= 0 && !ok:
			t.Fatalf("v.SearchRange(%d):\nhave _, false\nwant %d, true", n, want)
		case want >= 0 && i != want:
			t.Fatalf("v.SearchRange(%d):\nhave %d\nwant %d", n, i, want)
		}
		if ok {
			for j := i; j < i+n; j++ {
				if v.IsSet(j) {
					t.Fatalf("v.SearchRange(%d): bit %d is set", n, j)
				}
			}
		}
	}
	check(1, 0)
	check(3, 0)
	check(256, 0)
	check(257, -1)
	v.SetRange(0, 3)
	check(3, 3)
	v.Set(5)
	check(3, 6)
	check(2, 3)
	v.SetRange(6, 60)
	check(4, 66)
	check(64, 66)
	v.Set(70)
	check(64, 71)
	check(185, 71)
	check(186, -1)
	v.SetRange(128, 64)
	check(60, 192)
	check(64, 192)
	check(65, -1)
	v.Clear()
	v.Set(63)
	v.Set(64)
	check(63, 0)
	check(64, 65)
}
