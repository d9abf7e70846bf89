package taskgen

import (
	"fmt"
	"time"

	"curator/internal/types"
)

// BuildPrompt renders the prompt for one (analysis kind, file) pair. Every
// prompt asks for the same structured response shape the scorer parses: a
// JSON object with a "candidates" array of {value, confidence, reasoning}.
func BuildPrompt(kind types.AnalysisKind, file types.FileRecord) string {
	context := fileContext(file)

	switch kind {
	case types.KindRenameSuggestions:
		return fmt.Sprintf(`You are a file organization assistant. Suggest better filenames for this file.

%s

Propose up to 3 descriptive filenames. Keep the original extension %q. Use
lowercase words separated by underscores. Do not use the characters / \ : * ? " < > |.

Respond with JSON only, in this exact shape:
{"candidates": [{"value": "<filename with extension>", "confidence": <0-100>, "reasoning": "<one sentence>"}]}`,
			context, file.Extension)

	case types.KindClassification:
		return fmt.Sprintf(`You are a file organization assistant. Classify this file into a category.

%s

Pick up to 3 plausible categories such as "financial-document", "photo",
"source-code", "invoice", "presentation", "personal-note".

Respond with JSON only, in this exact shape:
{"candidates": [{"value": "<category>", "confidence": <0-100>, "reasoning": "<one sentence>"}]}`,
			context)

	case types.KindContentSummary:
		return fmt.Sprintf(`You are a file organization assistant. Summarize what this file likely contains.

%s

Write 1-2 candidate summaries of at most 40 words each.

Respond with JSON only, in this exact shape:
{"candidates": [{"value": "<summary>", "confidence": <0-100>, "reasoning": "<one sentence>"}]}`,
			context)

	case types.KindMetadataExtraction:
		return fmt.Sprintf(`You are a file organization assistant. Extract metadata hints from this file's context.

%s

Propose up to 3 metadata descriptors (e.g. a date, an author, a project
name, a document type) that likely apply.

Respond with JSON only, in this exact shape:
{"candidates": [{"value": "<key>: <value>", "confidence": <0-100>, "reasoning": "<one sentence>"}]}`,
			context)

	default:
		return context
	}
}

// fileContext renders the file fields prompts substitute in.
func fileContext(file types.FileRecord) string {
	modified := ""
	if file.ModifiedAt > 0 {
		modified = time.Unix(file.ModifiedAt, 0).UTC().Format("2006-01-02")
	}
	return fmt.Sprintf(`File context:
- name: %s
- extension: %s
- size: %.2f MB
- parent directory: %s
- relative path: %s
- mime type: %s
- modified: %s`,
		file.Name, file.Extension, file.SizeMB(), file.ParentDir, file.RelativePath, file.MIMEType, modified)
}
