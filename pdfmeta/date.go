package pdfmeta

import (
	"regexp"
	"strconv"
	"time"
)

// dateRe matches the PDF date grammar D:YYYYMMDDHHmmSSOHH'mm'. The match is
// anchored at the start only; trailing bytes are ignored.
var dateRe = regexp.MustCompile(`^(?:D:)?(\d{4})(\d{2})(\d{2})(\d{2})(\d{2})(\d{2})([-+zZ])?(\d{2})?'?(\d{2})?'?`)

// ParseDate parses a PDF date string such as "D:20120321183444+07'00'".
// It reports false when s does not follow the grammar or a field is out of
// range. A missing offset or a Z/z designator means UTC.
func ParseDate(s string) (time.Time, bool) {
	m := dateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	year := atoi(m[1])
	month := atoi(m[2])
	day := atoi(m[3])
	hour := atoi(m[4])
	minute := atoi(m[5])
	second := atoi(m[6])

	loc := time.UTC
	switch sign := m[7]; sign {
	case "+", "-":
		tzh, tzm := 0, 0
		if m[8] != "" {
			tzh = atoi(m[8])
		}
		if m[9] != "" {
			tzm = atoi(m[9])
		}
		if tzh > 23 || tzm > 59 {
			return time.Time{}, false
		}
		offset := tzh*3600 + tzm*60
		if sign == "-" {
			offset = -offset
		}
		loc = time.FixedZone("", offset)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	// time.Date normalizes overflow (month 13, Feb 30); reject instead.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
