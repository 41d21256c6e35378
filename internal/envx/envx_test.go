package envx_test

import (
	"testing"

	"rouen/internal/envx"
)

func Test_Map_Later_Duplicates_Win(t *testing.T) {
	t.Parallel()

	env := envx.Map([]string{
		"HOME=/home/a",
		"PATH=/bin",
		"HOME=/home/b",
		"MALFORMED",
		"EMPTY=",
	})

	if env["HOME"] != "/home/b" {
		t.Fatalf("HOME = %q, want /home/b", env["HOME"])
	}

	if env["EMPTY"] != "" {
		t.Fatalf("EMPTY = %q, want empty", env["EMPTY"])
	}

	if _, exists := env["MALFORMED"]; exists {
		t.Fatal("entries without '=' should be dropped")
	}
}

func Test_Get_Falls_Back_To_Process_Env_When_Map_Is_Nil(t *testing.T) {
	t.Setenv("ROUEN_TEST_VALUE", "fallback")

	if got := envx.Get(nil, "ROUEN_TEST_VALUE"); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}

	// A non-nil map shadows the process environment entirely.
	if got := envx.Get(map[string]string{}, "ROUEN_TEST_VALUE"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func Test_Expand_Substitutes_Dollar_Names(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"HOME": "/home/user",
		"XDG":  "/xdg",
	}

	cases := []struct {
		in   string
		want string
	}{
		{"$HOME/.cache", "/home/user/.cache"},
		{"$XDG/$HOME", "/xdg//home/user"},
		{"$UNKNOWN/data", "/data"},
		{"no variables", "no variables"},
		{"$", "$"},
		{"literal$1", "literal$1"},
	}

	for _, tc := range cases {
		if got := envx.Expand(env, tc.in); got != tc.want {
			t.Errorf("Expand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
