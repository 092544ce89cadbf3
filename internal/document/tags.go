package document

import "strings"

// TagKind is the closed set of custom YAML tags the platform understands.
// Any other custom tag is rejected at parse time.
type TagKind int

const (
	TagSecret TagKind = iota + 1
	TagInclude
	TagIncludeDirList
	TagIncludeDirMergeList
	TagIncludeDirNamed
	TagIncludeDirMergeNamed
	TagInput
)

// tagNames holds the exact tag spellings; they are part of the platform
// contract and must not change.
var tagNames = map[TagKind]string{
	TagSecret:               "!secret",
	TagInclude:              "!include",
	TagIncludeDirList:       "!include_dir_list",
	TagIncludeDirMergeList:  "!include_dir_merge_list",
	TagIncludeDirNamed:      "!include_dir_named",
	TagIncludeDirMergeNamed: "!include_dir_merge_named",
	TagInput:                "!input",
}

// String returns the verbatim tag, e.g. "!secret".
func (k TagKind) String() string {
	if s, ok := tagNames[k]; ok {
		return s
	}
	return "!unknown"
}

// ParseTagKind maps a tag as written in YAML to its kind.
func ParseTagKind(tag string) (TagKind, bool) {
	for k, s := range tagNames {
		if s == tag {
			return k, true
		}
	}
	return 0, false
}

// IsInclude reports whether the tag pulls in another file or directory.
func (k TagKind) IsInclude() bool {
	switch k {
	case TagInclude, TagIncludeDirList, TagIncludeDirMergeList, TagIncludeDirNamed, TagIncludeDirMergeNamed:
		return true
	}
	return false
}

// IncludesDir reports whether the tag's argument names a directory.
func (k TagKind) IncludesDir() bool {
	return k.IsInclude() && k != TagInclude
}

// isStandardTag reports whether tag is a YAML core tag rather than a
// custom one. Plain scalars carry resolved "!!" tags; "!" forces a string.
func isStandardTag(tag string) bool {
	return tag == "" || tag == "!" ||
		strings.HasPrefix(tag, "!!") ||
		strings.HasPrefix(tag, "tag:yaml.org,2002:")
}
