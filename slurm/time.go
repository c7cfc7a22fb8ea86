package slurm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseTimeToSeconds converts Slurm elapsed/limit strings to seconds.
// Accepted shapes: MM:SS, HH:MM:SS, D-HH:MM:SS, D-HH:MM. UNLIMITED and
// INVALID collapse to 0, which callers treat as "no limit known".
func ParseTimeToSeconds(s string) (int, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "UNLIMITED", "INVALID", "NOT_SET", "N/A":
		return 0, nil
	}

	days := 0
	if i := strings.IndexByte(s, '-'); i >= 0 {
		d, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("bad day component in %q", s)
		}
		days = d
		s = s[i+1:]
	}

	parts := strings.Split(s, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("bad time component %q in %q", p, s)
		}
		nums[i] = n
	}

	var h, m, sec int
	switch len(nums) {
	case 3: // HH:MM:SS
		h, m, sec = nums[0], nums[1], nums[2]
	case 2: // MM:SS without days, HH:MM with days (Slurm prints D-HH:MM)
		if days > 0 {
			h, m = nums[0], nums[1]
		} else {
			m, sec = nums[0], nums[1]
		}
	case 1:
		sec = nums[0]
	default:
		return 0, fmt.Errorf("unrecognized time string %q", s)
	}
	return days*86400 + h*3600 + m*60 + sec, nil
}

// FormatSeconds renders seconds in the shape Slurm accepts for --time:
// HH:MM:SS below one day, D-HH:MM:SS at or above.
func FormatSeconds(total int) string {
	if total < 0 {
		total = 0
	}
	days := total / 86400
	rem := total % 86400
	h := rem / 3600
	m := rem % 3600 / 60
	s := rem % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Duration is a parsed user time request: seconds plus the Slurm rendering.
type Duration struct {
	Seconds   int
	Formatted string
}

var unitRe = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParseDuration accepts human shorthand ("2h", "90m", "2h30m", "1d") as well
// as Slurm colon forms ("02:00:00", "1-00:00:00") and bare minutes ("45").
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Duration{}, fmt.Errorf("empty time string")
	}

	if strings.Contains(s, ":") {
		secs, err := ParseTimeToSeconds(strings.ToUpper(s))
		if err != nil {
			return Duration{}, err
		}
		return Duration{Seconds: secs, Formatted: FormatSeconds(secs)}, nil
	}

	if n, err := strconv.Atoi(s); err == nil {
		// bare number is minutes, matching sbatch --time
		secs := n * 60
		return Duration{Seconds: secs, Formatted: FormatSeconds(secs)}, nil
	}

	total := 0
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i == len(rest) {
			return Duration{}, fmt.Errorf("unrecognized time %q", s)
		}
		m := unitRe.FindStringSubmatch(rest[:i+1])
		if m == nil {
			return Duration{}, fmt.Errorf("unrecognized time %q", s)
		}
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "d":
			total += n * 86400
		case "h":
			total += n * 3600
		case "m":
			total += n * 60
		case "s":
			total += n
		}
		rest = rest[i+1:]
	}
	return Duration{Seconds: total, Formatted: FormatSeconds(total)}, nil
}
