package agent

import "strings"

// ThinkingScanner separates a model's internal-reasoning sub-stream
// from the user-visible text as chunks arrive. Markers may nest and
// may arrive split across chunk boundaries; the scanner tracks open
// minus close depth and holds back any tail that could still turn out
// to be a marker prefix.
type ThinkingScanner struct {
	open  string
	close string

	depth     int
	carry     string
	display   strings.Builder
	reasoning strings.Builder
}

// NewThinkingScanner builds a scanner for the given marker pair.
// Empty markers select the <think></think> default.
func NewThinkingScanner(open, close string) *ThinkingScanner {
	if open == "" {
		open = "<think>"
	}
	if close == "" {
		close = "</think>"
	}
	return &ThinkingScanner{open: open, close: close}
}

// Write feeds the next chunk of raw model output.
func (s *ThinkingScanner) Write(chunk string) {
	buf := s.carry + chunk
	s.carry = ""

	for buf != "" {
		openIdx := strings.Index(buf, s.open)
		closeIdx := strings.Index(buf, s.close)

		// Earliest marker wins; a close inside visible text is noise
		// and passes through via the depth floor below.
		idx, marker, opening := -1, "", false
		switch {
		case openIdx >= 0 && (closeIdx < 0 || openIdx < closeIdx):
			idx, marker, opening = openIdx, s.open, true
		case closeIdx >= 0:
			idx, marker, opening = closeIdx, s.close, false
		}

		if idx < 0 {
			held := markerPrefixLen(buf, s.open, s.close)
			s.emit(buf[:len(buf)-held])
			s.carry = buf[len(buf)-held:]
			return
		}

		s.emit(buf[:idx])
		if opening {
			s.depth++
		} else if s.depth > 0 {
			s.depth--
		}
		buf = buf[idx+len(marker):]
	}
}

func (s *ThinkingScanner) emit(text string) {
	if text == "" {
		return
	}
	if s.depth > 0 {
		s.reasoning.WriteString(text)
	} else {
		s.display.WriteString(text)
	}
}

// Display returns the user-visible text accumulated so far. While a
// thinking segment is open its content is absent from this view.
func (s *ThinkingScanner) Display() string { return s.display.String() }

// Reasoning returns the extracted reasoning text so far.
func (s *ThinkingScanner) Reasoning() string { return s.reasoning.String() }

// Open reports whether a thinking segment is currently unterminated.
func (s *ThinkingScanner) Open() bool { return s.depth > 0 }

// Finish drains any held-back tail. After an unterminated open marker
// the remaining text belongs to reasoning, matching how truncated
// streams end mid-thought.
func (s *ThinkingScanner) Finish() {
	if s.carry != "" {
		s.emit(s.carry)
		s.carry = ""
	}
}

// markerPrefixLen returns how many trailing bytes of buf form a
// proper prefix of either marker and so cannot be emitted yet.
func markerPrefixLen(buf string, markers ...string) int {
	held := 0
	for _, m := range markers {
		max := len(m) - 1
		if max > len(buf) {
			max = len(buf)
		}
		for n := max; n > held; n-- {
			if strings.HasSuffix(buf, m[:n]) {
				held = n
				break
			}
		}
	}
	return held
}
