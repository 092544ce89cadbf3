package official

import (
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/nugget/haconf/internal/finding"
)

// RemoteConfigDir is where the platform sees its configuration in the
// container images and the supervised install.
const RemoteConfigDir = "/config"

// locationRes lift a file and line out of a diagnostic. The platform
// phrases it as "at automations.yaml, line 12" in current releases and
// "(See /config/automations.yaml, line 12)" in older ones.
var locationRes = []*regexp.Regexp{
	regexp.MustCompile(`\(See ([^,()]+), line (\d+)\)`),
	regexp.MustCompile(`\bat ([^\s,]+\.ya?ml), line (\d+)`),
}

// ansiRe matches the color codes check_config writes unconditionally.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// dumpKeyRe matches the first line of a dumped configuration block, which
// check_config prints after a message as "- key: value". Platform
// messages start with a capital letter; configuration keys never do.
var dumpKeyRe = regexp.MustCompile(`^[a-z0-9_][a-z0-9_.-]*:(\s|$)`)

type mode int

const (
	modeNone mode = iota
	modeError
	modeWarning
)

// Normalize converts the text printed by the platform's check_config
// script into findings. Section headers select the severity:
// "Failed config", "Invalid config" and "General Errors" mean error,
// "Incorrect config" or a header containing "Warning" means warning, and
// "Successful config" ends the diagnostics. Each "- " item is one
// finding; indented lines that follow an item continue it, and an
// indented "component:" line names the integration for the items below
// it. Items that are dumped configuration rather than messages are
// skipped along with their nested lines. File paths are made relative to
// root or to RemoteConfigDir.
func Normalize(output, root string) []finding.Finding {
	dirs := []string{root, RemoteConfigDir}
	var (
		out       []finding.Finding
		m         = modeNone
		component string
		itemDepth = -1
		dumpDepth = -1
	)

	for _, raw := range strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n") {
		line := strings.TrimRight(ansiRe.ReplaceAllString(raw, ""), " \t")
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		depth := len(line) - len(strings.TrimLeft(line, " \t"))

		if dumpDepth >= 0 {
			if depth > dumpDepth {
				continue
			}
			dumpDepth = -1
		}

		if msg, ok := strings.CutPrefix(text, "- "); ok {
			if m == modeNone {
				continue
			}
			if dumpKeyRe.MatchString(msg) {
				dumpDepth, itemDepth = depth, -1
				continue
			}
			out = append(out, newFinding(m, component, msg, dirs))
			itemDepth = depth
			continue
		}

		// Continuation of a wrapped item.
		if itemDepth >= 0 && depth > itemDepth && m != modeNone && len(out) > 0 {
			last := &out[len(out)-1]
			last.Message += " " + text
			if last.File == "" {
				last.Location = locate(last.Message, dirs)
			}
			continue
		}
		itemDepth = -1

		switch {
		case strings.Contains(text, "Successful config"):
			m, component = modeNone, ""
		case strings.Contains(text, "Failed config"),
			strings.Contains(text, "Invalid config"),
			strings.Contains(text, "General Errors"):
			m, component = modeError, ""
		case strings.Contains(text, "Incorrect config"),
			strings.Contains(text, "Warning"):
			m, component = modeWarning, ""
		case m != modeNone && strings.HasSuffix(text, ":"):
			component = strings.TrimSuffix(text, ":")
		}
	}
	return out
}

// NormalizeLines converts newline-separated diagnostics, as returned by
// the REST check, into findings of one severity. File paths are made
// relative to the first of dirs that contains them.
func NormalizeLines(text string, sev finding.Severity, dirs ...string) []finding.Finding {
	m := modeError
	if sev == finding.SeverityWarning {
		m = modeWarning
	}
	var out []finding.Finding
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" {
			continue
		}
		out = append(out, newFinding(m, "", line, dirs))
	}
	return out
}

func newFinding(m mode, component, msg string, dirs []string) finding.Finding {
	msg = strings.TrimSpace(msg)
	if component != "" {
		msg = component + ": " + msg
	}
	sev := finding.SeverityError
	if m == modeWarning {
		sev = finding.SeverityWarning
	}
	return finding.Finding{
		Source:   finding.SourceOfficial,
		Severity: sev,
		Location: locate(msg, dirs),
		Message:  msg,
	}
}

func locate(msg string, dirs []string) finding.Location {
	for _, re := range locationRes {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[2])
			return finding.Location{File: relativePath(strings.TrimSpace(m[1]), dirs), Line: line}
		}
	}
	return finding.Location{}
}

// relativePath maps a path printed by the platform onto the local
// working copy by stripping the first of dirs that contains it.
func relativePath(p string, dirs []string) string {
	p = filepath.ToSlash(p)
	for _, d := range dirs {
		if d == "" {
			continue
		}
		d = strings.TrimSuffix(filepath.ToSlash(filepath.Clean(d)), "/")
		if rel, ok := strings.CutPrefix(p, d+"/"); ok {
			return rel
		}
	}
	return path.Clean(p)
}
