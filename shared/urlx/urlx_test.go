package urlx

import (
	"testing"

	"tapistry/shared/config"
)

func TestSanitizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"keeps allowlisted in order", "https://a.example/p?utm_source=x&token=secret&lang=de#frag", "https://a.example/p?utm_source=x&lang=de"},
		{"drops everything", "https://a.example/p?email=a%40b.c", "https://a.example/p"},
		{"reencodes values", "https://a.example/?utm_campaign=spring%20sale", "https://a.example/?utm_campaign=spring+sale"},
		{"invalid passes through", "not a url", "not a url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeURL(tc.in, config.DefaultQueryAllowlist)
			if got != tc.want {
				t.Fatalf("SanitizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"https://a.example/Docs/":           "/docs",
		"https://a.example/blog/index.html": "/blog",
		"https://a.example/index.htm":       "/",
		"https://a.example/index":           "/",
		"https://a.example":                 "/",
		"https://a.example/a/b?q=1":         "/a/b",
		"::::":                              "/",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractUTM(t *testing.T) {
	got := ExtractUTM("https://a.example/?utm_source=news&gclid=1&utm_medium=email")
	if len(got) != 2 || got["utm_source"] != "news" || got["utm_medium"] != "email" {
		t.Fatalf("unexpected utm: %v", got)
	}
	if len(ExtractUTM("%%%")) != 0 {
		t.Fatalf("expected empty map for invalid url")
	}
}
