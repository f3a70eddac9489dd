package generator

import "strings"

const (
	DocumentStart = "<!DOCTYPE html>"
	DocumentEnd   = "</html>"
	// MinDocumentLength rejects prose replies that merely mention a doctype.
	MinDocumentLength = 100
)

// ExtractDocument slices the HTML document out of a model reply, from the
// doctype through the first closing html tag after it, inclusive.
func ExtractDocument(content string) (string, error) {
	start := indexFold(content, DocumentStart)
	if start < 0 {
		return "", &ContentError{Reason: "no <!DOCTYPE html> in response", Raw: content}
	}
	end := indexFold(content[start:], DocumentEnd)
	if end < 0 {
		return "", &ContentError{Reason: "no </html> in response", Raw: content}
	}
	doc := content[start : start+end+len(DocumentEnd)]
	if len(doc) < MinDocumentLength {
		return "", &ContentError{Reason: "document too short", Raw: content}
	}
	return doc, nil
}

// indexFold is strings.Index with ASCII case folding; markers are ASCII so
// byte offsets stay valid.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}
