package slurm

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandNodeList expands Slurm compressed nodelist notation into individual
// node names: "udc-an[1,3,5-7]" -> udc-an1, udc-an3, udc-an5, udc-an6,
// udc-an7. Zero padding inside the brackets is preserved ("n[01-03]" ->
// n01, n02, n03). Multiple comma-separated groups are supported.
func ExpandNodeList(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if list == "" || list == "(null)" || list == "None assigned" {
		return nil, nil
	}

	var names []string
	for _, tok := range splitTopLevel(list) {
		open := strings.IndexByte(tok, '[')
		if open < 0 {
			names = append(names, tok)
			continue
		}
		close_ := strings.IndexByte(tok, ']')
		if close_ < open {
			return nil, fmt.Errorf("unbalanced brackets in nodelist %q", tok)
		}
		prefix := tok[:open]
		suffix := tok[close_+1:]
		for _, r := range strings.Split(tok[open+1:close_], ",") {
			expanded, err := expandRange(prefix, suffix, r)
			if err != nil {
				return nil, err
			}
			names = append(names, expanded...)
		}
	}
	return names, nil
}

// splitTopLevel splits on commas outside brackets.
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func expandRange(prefix, suffix, r string) ([]string, error) {
	dash := strings.IndexByte(r, '-')
	if dash < 0 {
		return []string{prefix + r + suffix}, nil
	}
	lo, hi := r[:dash], r[dash+1:]
	loN, err := strconv.Atoi(lo)
	if err != nil {
		return nil, fmt.Errorf("bad range start %q", r)
	}
	hiN, err := strconv.Atoi(hi)
	if err != nil {
		return nil, fmt.Errorf("bad range end %q", r)
	}
	if hiN < loN {
		return nil, fmt.Errorf("inverted range %q", r)
	}
	width := len(lo)
	out := make([]string, 0, hiN-loN+1)
	for n := loN; n <= hiN; n++ {
		out = append(out, fmt.Sprintf("%s%0*d%s", prefix, width, n, suffix))
	}
	return out, nil
}
