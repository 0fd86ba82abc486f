package device

import "testing"

func TestClassOf(t *testing.T) {
	cases := map[int]Class{0: Mobile, 767: Mobile, 768: Tablet, 1023: Tablet, 1024: Desktop, 2560: Desktop}
	for w, want := range cases {
		if got := ClassOf(w); got != want {
			t.Fatalf("ClassOf(%d) = %s, want %s", w, got, want)
		}
	}
}

func TestViewportBucket(t *testing.T) {
	cases := map[int]string{320: "0-479", 480: "480-767", 800: "768-1023", 1280: "1024-1439", 1440: "1440+"}
	for w, want := range cases {
		if got := ViewportBucket(w); got != want {
			t.Fatalf("ViewportBucket(%d) = %s, want %s", w, got, want)
		}
	}
}
