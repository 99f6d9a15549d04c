package proto

import "strings"

// Reply categories: the first word of every sentence received from the
// router.
const (
	ReplyData  = "!re"
	ReplyDone  = "!done"
	ReplyTrap  = "!trap"
	ReplyFatal = "!fatal"
)

// isReplyWord reports whether w is one of the four reply categories the
// router is defined to send. The Receiver treats any other first word
// starting with "!" as a protocol violation; a sentence led by a command
// word (such as "/login") is emitted as is.
func isReplyWord(w string) bool {
	switch w {
	case ReplyData, ReplyDone, ReplyTrap, ReplyFatal:
		return true
	default:
		return false
	}
}

// Sentence is an ordered list of words: a decoded reply sentence from the
// router, or a command sentence about to be sent to it.
type Sentence struct {
	Words []string
}

// Word returns the first word, or "" for an empty sentence. For a
// received sentence this is the reply category; for a sent sentence it
// is the command path.
func (s Sentence) Word() string {
	if len(s.Words) == 0 {
		return ""
	}
	return s.Words[0]
}

// Tag returns the sentence's ".tag=" value and whether one was present.
func (s Sentence) Tag() (string, bool) {
	for _, w := range s.Words[1:] {
		if v, ok := cutPrefix(w, ".tag="); ok {
			return v, true
		}
	}
	return "", false
}

// Map collects every "key=value" attribute word (including ".tag",
// ".section", but excluding the leading reply/command word) into a map.
// Later duplicate keys overwrite earlier ones, matching wire order.
func (s Sentence) Map() map[string]string {
	m := make(map[string]string, len(s.Words))
	for _, w := range s.Words[1:] {
		if len(w) == 0 || w[0] != '=' && w[0] != '.' {
			continue
		}
		key, value, ok := splitAttr(w)
		if ok {
			m[key] = value
		}
	}
	return m
}

// Section returns the sentence's ".section=" value and whether one was
// present.
func (s Sentence) Section() (string, bool) {
	for _, w := range s.Words[1:] {
		if v, ok := cutPrefix(w, ".section="); ok {
			return v, true
		}
	}
	return "", false
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

// splitAttr splits a "=key=value" or ".key=value" word into key/value.
func splitAttr(w string) (key, value string, ok bool) {
	lead := w[0] // '=' or '.'
	rest := w[1:]
	i := strings.IndexByte(rest, '=')
	if i < 0 {
		return "", "", false
	}
	key = rest[:i]
	value = rest[i+1:]
	if lead == '.' {
		key = "." + key
	}
	return key, value, true
}
