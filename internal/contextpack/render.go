package contextpack

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// maxCommitFiles is how many changed files a commit block lists before
// collapsing the rest into a "+K more" suffix.
const maxCommitFiles = 3

// truncationMarker is appended to shortened item content.
const truncationMarker = "... [truncated]"

// sectionOrder fixes the order sources render in.
var sectionOrder = []models.Source{
	models.SourceMemory,
	models.SourceCode,
	models.SourceExperience,
	models.SourceValue,
	models.SourceCommit,
}

var sectionTitles = map[models.Source]string{
	models.SourceMemory:     "Memories",
	models.SourceCode:       "Code",
	models.SourceExperience: "Experiences",
	models.SourceValue:      "Values",
	models.SourceCommit:     "Commits",
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func metaStrings(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// renderItem maps one item into its source's fixed markdown block.
func renderItem(item models.ContextItem) string {
	switch item.Source {
	case models.SourceMemory:
		var b strings.Builder
		fmt.Fprintf(&b, "**Memory**: %s", item.Content)
		if cat := metaString(item.Metadata, "category"); cat != "" {
			fmt.Fprintf(&b, "\n- Category: %s", cat)
		}
		if imp, ok := item.Metadata["importance"]; ok {
			fmt.Fprintf(&b, "\n- Importance: %v", imp)
		}
		return b.String()
	case models.SourceCode:
		path := metaString(item.Metadata, "file_path")
		if path == "" {
			return fmt.Sprintf("**Code**:\n%s", item.Content)
		}
		return fmt.Sprintf("**Code** `%s`:\n%s", path, item.Content)
	case models.SourceExperience:
		var b strings.Builder
		fmt.Fprintf(&b, "**Experience**: %s", item.Content)
		if tier := metaString(item.Metadata, "confidence_tier"); tier != "" {
			fmt.Fprintf(&b, "\n- Confidence: %s", tier)
		}
		return b.String()
	case models.SourceValue:
		return fmt.Sprintf("**Value**: %s", item.Content)
	case models.SourceCommit:
		return renderCommit(item)
	default:
		return item.Content
	}
}

func renderCommit(item models.ContextItem) string {
	sha := metaString(item.Metadata, "sha")
	if len(sha) > 8 {
		sha = sha[:8]
	}
	author := metaString(item.Metadata, "author")
	timestamp := metaString(item.Metadata, "timestamp")
	message := item.Content
	if m := metaString(item.Metadata, "message"); m != "" {
		message = m
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Commit** %s", sha)
	if author != "" {
		fmt.Fprintf(&b, " by %s", author)
	}
	if timestamp != "" {
		fmt.Fprintf(&b, " (%s)", timestamp)
	}
	fmt.Fprintf(&b, ": %s", message)
	files := metaStrings(item.Metadata, "files")
	if len(files) > 0 {
		shown := files
		if len(shown) > maxCommitFiles {
			shown = shown[:maxCommitFiles]
		}
		fmt.Fprintf(&b, "\n- Files: %s", strings.Join(shown, ", "))
		if extra := len(files) - len(shown); extra > 0 {
			fmt.Fprintf(&b, " +%d more", extra)
		}
	}
	return b.String()
}
