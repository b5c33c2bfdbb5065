package command

import "testing"

func TestIsCommand(t *testing.T) {
	cases := map[string]bool{
		"/rooms":     true,
		"/join red":  true,
		"hello":      false,
		"":           false,
		"/":          true,
	}
	for line, want := range cases {
		if got := IsCommand(line); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestParseRecognized(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"/rooms", Command{Kind: Rooms}},
		{"/rooms extra", Command{Kind: Rooms}},
		{"/join red", Command{Kind: Join, Arg: "red"}},
		{"/join red now", Command{Kind: Join, Arg: "red"}},
		{"/quit", Command{Kind: Quit}},
		{"/quit now", Command{Kind: Quit}},
	}
	for _, c := range cases {
		got := Parse(c.line)
		if got != c.want {
			t.Errorf("Parse(%q) = %+v, want %+v", c.line, got, c.want)
		}
	}
}

func TestParseUnrecognized(t *testing.T) {
	cases := []string{
		"/join", // missing argument
		"/bogus",
		"/",
	}
	for _, line := range cases {
		got := Parse(line)
		if got.Kind != Unrecognized {
			t.Errorf("Parse(%q).Kind = %v, want Unrecognized", line, got.Kind)
		}
	}
}
