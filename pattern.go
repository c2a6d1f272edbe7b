package weft

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// patternKey describes one named capture produced by a compiled Pattern.
type patternKey struct {
	name string
	optional bool
}

// Pattern is a compiled path pattern.
//
// It is the regex-based replacement for air's radix-tree node: instead of
// inserting path fragments into a tree for O(prefix) dispatch, a Pattern
// compiles its source once into a single *regexp.Regexp with one capture
// group per key, matching Express's path-to-regexp contract: a path
// pattern is equivalent to a compiled regular expression.
type Pattern struct {
	Source string

	re *regexp.Regexp
	keys []patternKey

	// prefixMode is true when the Pattern was compiled with end=false
	// (middleware matching), false for exact route matching.
	prefixMode bool

	// rootPrefix is true for the "/" pattern compiled in prefix mode,
	// which matches every path with an empty stripped prefix. It is
	// handled outside the regex because a zero-length match at a
	// segment boundary can't both anchor on "/" and match paths that
	// don't repeat it.
	rootPrefix bool
}

// PatternOptions controls how CompilePattern builds a Pattern.
type PatternOptions struct {
	// End selects exact mode (true) or prefix mode (false, the zero value).
	End bool

	// Strict disables tolerance of a trailing slash in exact mode.
	Strict bool

	// Sensitive makes literal characters case-sensitive. Defaults to
	// case-insensitive matching.
	Sensitive bool
}

// identByte reports whether b may appear in a param name per the
// IDENT = [A-Za-z_][A-Za-z0-9_]*.
func identByte(b byte, first bool) bool {
	if b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') {
		return true
	}

	if !first && b >= '0' && b <= '9' {
		return true
	}

	return false
}

// CompilePattern compiles source into a Pattern according to opts.
//
// A '*' segment may appear anywhere in source, including more than once;
// each is captured positionally as "0", "1", … in left-to-right order.
// Malformed patterns (a ':' not followed by a valid IDENT, or two
// consecutive optional segments) fail with *ErrInvalidPattern; see
// SPEC_FULL.md for the adjacent-optional-params decision.
func CompilePattern(source string, opts PatternOptions) (*Pattern, error) {
	if source == "" {
		source = "/"
	}

	var (
		reBuf        strings.Builder
		keys         []patternKey
		lastWasOpt   bool
		wildcardSeen int
	)

	reBuf.WriteString("^")

	i, n := 0, len(source)
	for i < n {
		c := source[i]
		switch {
		case c == '*':
			keys = append(keys, patternKey{name: strconv.Itoa(wildcardSeen), optional: false})
			wildcardSeen++
			reBuf.WriteString("(.*)")
			i++
			lastWasOpt = false

		case c == ':':
			j := i + 1
			if j >= n || !identByte(source[j], true) {
				return nil, &ErrInvalidPattern{source, "':' must be followed by a valid identifier"}
			}

			k := j + 1
			for k < n && identByte(source[k], false) {
				k++
			}

			name := source[j:k]
			optional := k < n && source[k] == '?'
			if optional {
				k++
			}

			if optional && lastWasOpt {
				return nil, &ErrInvalidPattern{source, "adjacent optional params are not supported; separate them with a literal segment"}
			}

			for _, key := range keys {
				if key.name == name {
					return nil, &ErrInvalidPattern{source, "duplicate param name " + name}
				}
			}

			keys = append(keys, patternKey{name: name, optional: optional})

			if optional {
				// ':name?' consumes its preceding slash when absent.
				reBuf.WriteString("(?:/([^/]+))?")
				// The preceding '/' literal we already emitted must become
				// optional too; rebuild by trimming the trailing "/" we
				// just wrote, since we fold it into the group above.
				s := reBuf.String()
				if strings.HasSuffix(s, "/(?:/([^/]+))?") {
					reBuf.Reset()
					reBuf.WriteString(strings.TrimSuffix(s, "/(?:/([^/]+))?"))
					reBuf.WriteString("(?:/([^/]+))?")
				}
			} else {
				reBuf.WriteString("([^/]+)")
			}

			i = k
			lastWasOpt = optional

		default:
			start := i
			for i < n && source[i] != ':' && source[i] != '*' {
				i++
			}

			reBuf.WriteString(regexp.QuoteMeta(source[start:i]))
			// A bare "/" between two optional params does not separate them.
			if source[start:i] != "/" {
				lastWasOpt = false
			}
		}
	}

	prefixMode := !opts.End

	if prefixMode && source == "/" {
		return &Pattern{
			Source: source,
			prefixMode: true,
			rootPrefix: true,
		}, nil
	}

	if prefixMode {
		// Prefix mode matches at a segment boundary or end-of-path; the
		// final group marks where the consumed prefix ends.
		reBuf.WriteString(`(/|$)`)
	} else {
		if !opts.Strict {
			reBuf.WriteString(`/?`)
		}

		reBuf.WriteString("$")
	}

	flags := "(?i)"
	if opts.Sensitive {
		flags = ""
	}

	re, err := regexp.Compile(flags + reBuf.String())
	if err != nil {
		return nil, &ErrInvalidPattern{source, err.Error()}
	}

	return &Pattern{
		Source: source,
		re: re,
		keys: keys,
		prefixMode: prefixMode,
	}, nil
}

// MatchResult is the outcome of a successful Pattern.Match.
type MatchResult struct {
	// Params maps key name to decoded value. Optional keys that were
	// absent are not present in the map.
	Params map[string]string

	// MatchedPrefix is the prefix of path consumed by a prefix-mode
	// match; meaningful only when the Pattern was compiled with End=false.
	MatchedPrefix string
}

// Match reports whether path matches p, returning the extracted params and
// consumed prefix on success, or nil on failure.
func (p *Pattern) Match(path string) *MatchResult {
	if p.rootPrefix {
		return &MatchResult{Params: map[string]string{}, MatchedPrefix: ""}
	}

	loc := p.re.FindStringSubmatchIndex(path)
	if loc == nil {
		return nil
	}

	params := make(map[string]string, len(p.keys))

	groupIdx := 1
	for _, key := range p.keys {
		start, end := loc[2*groupIdx], loc[2*groupIdx+1]
		groupIdx++

		if start < 0 {
			// Optional key not present.
			continue
		}

		raw := path[start:end]
		params[key.name] = decodeParam(raw)
	}

	matchedPrefix := ""
	if p.prefixMode {
		// The boundary group is the last one in the regex; its match
		// start is where the consumed prefix ends.
		boundaryStart := loc[2*groupIdx]
		if boundaryStart >= 0 {
			matchedPrefix = path[:boundaryStart]
		} else {
			matchedPrefix = path
		}
	}

	return &MatchResult{Params: params, MatchedPrefix: matchedPrefix}
}

// decodeParam percent-decodes raw, falling back to the raw segment if
// decoding fails.
func decodeParam(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}

	return decoded
}
