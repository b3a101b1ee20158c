package main

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// languageName resolves a BCP-47 code to its English display name, used
// in prompts so the model sees "Vietnamese" rather than "vi". Unknown or
// empty codes fall through unchanged.
func languageName(code string) string {
	if code == "" || code == "none" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
