// Package extract locates and decodes the structured brand block an assistant
// embeds in its reply once onboarding has gathered everything it needs.
package extract

import (
	"fmt"
	"strings"
)

// Field describes one required key of the structured block.
type Field struct {
	Name        string
	Type        string
	Description string
}

// RequiredFields lists every key a block must carry to become a BrandProfile.
var RequiredFields = []Field{
	{Name: "brand_name", Type: "string", Description: "Name of the brand"},
	{Name: "website_url", Type: "string", Description: "Official website URL"},
	{Name: "description", Type: "string", Description: "Brand description"},
	{Name: "social_media", Type: "array", Description: "List of social media handles as objects with platform and handle"},
	{Name: "key_terms", Type: "array", Description: "List of key brand terms and phrases"},
}

// FieldNames returns the required keys in declaration order.
func FieldNames() []string {
	names := make([]string, len(RequiredFields))
	for i, f := range RequiredFields {
		names[i] = f.Name
	}
	return names
}

// FormatInstructions is the text injected into every prompt so the assistant
// emits a block this package can recognize.
func FormatInstructions() string {
	var b strings.Builder
	b.WriteString("When, and only when, you have collected every detail, include the result as a markdown ")
	b.WriteString("code snippet formatted in the following schema, including the leading and trailing ")
	b.WriteString("\"```json\" and \"```\":\n\n```json\n{\n")
	for i, f := range RequiredFields {
		sep := ","
		if i == len(RequiredFields)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "\t%q: %s%s  // %s\n", f.Name, f.Type, sep, f.Description)
	}
	b.WriteString("}\n```\n\n")
	b.WriteString("Each social_media entry is an object {\"platform\": string, \"handle\": string}. ")
	b.WriteString("key_terms is an array of strings. Emit the block at most once.")
	return b.String()
}
