// Package srt reads and writes SubRip subtitle documents.
package srt

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Segment is one timed subtitle cue
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// FormatTimestamp renders d as HH:MM:SS,mmm
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	s := (ms % 60_000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// ParseTimestamp reads HH:MM:SS,mmm (a dot separator is accepted too)
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.Replace(s, ".", ",", 1))
	clock, millis, ok := strings.Cut(s, ",")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var fields [4]int
	for i, p := range append(parts, millis) {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		fields[i] = n
	}
	return time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second +
		time.Duration(fields[3])*time.Millisecond, nil
}

// Format renders segments as a numbered SRT document
func Format(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, FormatTimestamp(seg.Start), FormatTimestamp(seg.End), strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// Parse reads an SRT document. Cue numbers are ignored and renumbered on Format.
func Parse(doc string) ([]Segment, error) {
	var (
		segments []Segment
		cur      *Segment
		text     []string
	)
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, "\n")
			segments = append(segments, *cur)
		}
		cur, text = nil, nil
	}

	sc := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(doc, "\r\n", "\n")))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			flush()
			start, end, _ := strings.Cut(line, "-->")
			s, err := ParseTimestamp(start)
			if err != nil {
				return nil, err
			}
			e, err := ParseTimestamp(end)
			if err != nil {
				return nil, err
			}
			cur = &Segment{Start: s, End: e}
		case cur == nil:
			// cue number
		default:
			text = append(text, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	flush()
	return segments, nil
}

func isTextLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.Contains(trimmed, "-->") {
		return false
	}
	_, err := strconv.Atoi(trimmed)
	return err != nil
}

// PlainText extracts the subtitle text, one cue line per output line
func PlainText(doc string) string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n") {
		if isTextLine(line) {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return strings.Join(out, "\n")
}

// TextLines returns the text lines of doc in order
func TextLines(doc string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n") {
		if isTextLine(line) {
			out = append(out, line)
		}
	}
	return out
}

// MapText rewrites only the text lines of doc, leaving cue numbers,
// timecodes and blank lines untouched.
func MapText(doc string, fn func(string) (string, error)) (string, error) {
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if !isTextLine(line) {
			continue
		}
		mapped, err := fn(line)
		if err != nil {
			return "", err
		}
		lines[i] = mapped
	}
	return strings.Join(lines, "\n"), nil
}

// ReplaceText substitutes the text lines of doc with replacements in order.
// It fails when the number of replacements differs from the number of text lines.
func ReplaceText(doc string, replacements []string) (string, error) {
	i := 0
	out, err := MapText(doc, func(string) (string, error) {
		if i >= len(replacements) {
			return "", fmt.Errorf("got %d replacement lines for more text lines", len(replacements))
		}
		r := replacements[i]
		i++
		return r, nil
	})
	if err != nil {
		return "", err
	}
	if i != len(replacements) {
		return "", fmt.Errorf("got %d replacement lines for %d text lines", len(replacements), i)
	}
	return out, nil
}
