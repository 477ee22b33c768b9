package ident

import "testing"

// walkContains answers InRange by stepping clockwise from lo to hi.
func walkContains(s Space, x, lo, hi ID, incLo, incHi bool) bool {
	if lo == hi {
		return x != lo || incLo || incHi
	}
	if x == lo {
		return incLo
	}
	for p := s.Add(lo, 1); p != hi; p = s.Add(p, 1) {
		if p == x {
			return true
		}
	}
	return x == hi && incHi
}

// TestInRange_Property_MatchesWalk checks every (x, lo, hi) triple of a 4-bit space
func TestInRange_Property_MatchesWalk(t *testing.T) {
	s := Space{Bits: 4}
	bounds := []bool{false, true}

	for lo := ID(0); lo <= s.Max(); lo++ {
		for hi := ID(0); hi <= s.Max(); hi++ {
			for x := ID(0); x <= s.Max(); x++ {
				for _, incLo := range bounds {
					for _, incHi := range bounds {
						want := walkContains(s, x, lo, hi, incLo, incHi)
						if got := s.InRange(x, lo, hi, incLo, incHi); got != want {
							t.Fatalf("InRange(%d, %d, %d, %v, %v) = %v, walk says %v",
								x, lo, hi, incLo, incHi, got, want)
						}
					}
				}
			}
		}
	}
}

// TestInRange_Property_HalfOpenPartition tests that (a, b] and (b, a] split the ring
func TestInRange_Property_HalfOpenPartition(t *testing.T) {
	s := Space{Bits: 5}
	for a := ID(0); a <= s.Max(); a++ {
		for b := ID(0); b <= s.Max(); b++ {
			if a == b {
				continue
			}
			for x := ID(0); x <= s.Max(); x++ {
				left := s.InRange(x, a, b, false, true)
				right := s.InRange(x, b, a, false, true)
				if left == right {
					t.Fatalf("key %d: (%d,%d]=%v and (%d,%d]=%v should be exclusive", x, a, b, left, b, a, right)
				}
			}
		}
	}
}

// TestHash_Property_Distribution checks that SHA-1 spreads names over a small space
func TestHash_Property_Distribution(t *testing.T) {
	s := Space{Bits: 4}
	buckets := make(map[ID]int)
	for i := 0; i < 1600; i++ {
		buckets[s.Hash("member-"+string(rune('a'+i%26))+string(rune('0'+i%10))+string(rune(i)))]++
	}
	if len(buckets) != 16 {
		t.Errorf("Expected all 16 positions to be used, got %d", len(buckets))
	}
	for id, count := range buckets {
		if count > 400 {
			t.Errorf("Position %d got %d of 1600 names (too many)", id, count)
		}
	}
}
