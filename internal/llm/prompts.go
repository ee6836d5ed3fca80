package llm

import (
	"fmt"
	"strings"
)

const (
	systemPromptOutline = "You are a book planning engine. Respond with JSON only. No markdown. Output must match the schema exactly."
	systemPromptChapter = "You are a professional book author. Write flowing prose. Respond with the chapter text only, no preamble."
	systemPromptArt     = "You are an illustration director. Respond with a single vivid illustration description, no preamble."
	systemPromptFixJSON = "You are a JSON repair tool. Return only valid JSON that matches the schema exactly."
)

// OutlineRequest builds the request that produces a book outline as JSON.
func OutlineRequest(topic string, chapterCount, outlineDepth int, tone, audience string) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Create an outline for a book about the following topic.\n\nTopic: %s\n\n", strings.TrimSpace(topic))
	fmt.Fprintf(&b, "The book has exactly %d chapters.\n", chapterCount)
	if outlineDepth > 1 {
		fmt.Fprintf(&b, "Each chapter lists up to %d levels of sections.\n", outlineDepth)
	}
	writeStyleHints(&b, tone, audience)
	b.WriteString("\nRespond with JSON matching this schema:\n")
	b.WriteString(`{"title": "...", "chapters": [{"number": 1, "title": "...", "summary": "...", "sections": ["..."]}]}`)
	return Request{System: systemPromptOutline, Prompt: b.String(), JSONOnly: true}
}

// ChapterRequest builds the request that writes one chapter of the book.
func ChapterRequest(bookTitle, chapterTitle, summary string, number, total, wordTarget int, tone, audience string) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Write chapter %d of %d of the book %q.\n\n", number, total, bookTitle)
	fmt.Fprintf(&b, "Chapter title: %s\n", chapterTitle)
	if strings.TrimSpace(summary) != "" {
		fmt.Fprintf(&b, "Chapter summary: %s\n", summary)
	}
	fmt.Fprintf(&b, "Target length: about %d words.\n", wordTarget)
	writeStyleHints(&b, tone, audience)
	return Request{System: systemPromptChapter, Prompt: b.String()}
}

// IllustrationRequest builds the request that produces an illustration
// description for one chapter.
func IllustrationRequest(bookTitle, chapterTitle, summary string) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe a single illustration for the chapter %q of the book %q.\n", chapterTitle, bookTitle)
	if strings.TrimSpace(summary) != "" {
		fmt.Fprintf(&b, "Chapter summary: %s\n", summary)
	}
	b.WriteString("Keep the description under 80 words.")
	return Request{System: systemPromptArt, Prompt: b.String()}
}

// FixJSONRequest builds the request that repairs malformed JSON output.
func FixJSONRequest(raw string) Request {
	var b strings.Builder
	b.WriteString("The following output should be valid JSON but is not. Repair it and return only the JSON:\n\n")
	b.WriteString(raw)
	return Request{System: systemPromptFixJSON, Prompt: b.String(), JSONOnly: true}
}

func writeStyleHints(b *strings.Builder, tone, audience string) {
	if tone = strings.TrimSpace(tone); tone != "" {
		fmt.Fprintf(b, "Tone: %s.\n", tone)
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		fmt.Fprintf(b, "Audience: %s.\n", audience)
	}
}
