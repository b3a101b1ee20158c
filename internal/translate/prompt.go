package translate

import "strings"

// BasePrompt is the default chunk-translation instruction. Placeholders
// are substituted per file before any chunk call.
const BasePrompt = `You are a professional subtitle translator. Translate the numbered subtitle lines from {src} into {tgt}.
Preserve the meaning, register and line breaks of each entry. Do not merge or split entries.
{terms_note}{summary_content}`

const summaryBlock = "\nContext summary of the material, for consistency only:\n{summary}\n"

// BuildPrompt substitutes the per-file placeholders into the base prompt:
// {src}, {tgt}, {summary_content} and {terms_note}. Empty values collapse
// their placeholder to nothing; an empty source becomes "the detected
// source language".
func BuildPrompt(base, srcName, tgtName, summary, termsNote string) string {
	if base == "" {
		base = BasePrompt
	}
	if srcName == "" {
		srcName = "the detected source language"
	}
	p := strings.ReplaceAll(base, "{src}", srcName)
	p = strings.ReplaceAll(p, "{tgt}", tgtName)

	if termsNote != "" {
		termsNote = "\nGlossary to apply consistently:\n" + strings.TrimSpace(termsNote) + "\n"
	}
	p = strings.ReplaceAll(p, "{terms_note}", termsNote)

	if summary != "" {
		summary = strings.ReplaceAll(summaryBlock, "{summary}", strings.TrimSpace(summary))
	}
	p = strings.ReplaceAll(p, "{summary_content}", summary)
	return strings.TrimSpace(p)
}
