package analysis

import (
	"fmt"
	"strings"
)

const analysisSystemPrompt = `You analyze transcribed voice notes. Respond with JSON only, using this exact shape:
{"summary":"...","key_points":["..."],"action_items":["..."],"sentiment":"positive|neutral|negative|mixed","topics":["..."]}
Summaries are two to four sentences. Key points are concrete statements from the note, not restatements of the summary. Action items are tasks the speaker committed to or requested; leave the array empty when there are none. Topics are short noun phrases.`

func analysisUserPrompt(transcript string, input Input) string {
	var b strings.Builder
	if !input.RecordedAt.IsZero() {
		fmt.Fprintf(&b, "Recorded at: %s\n", input.RecordedAt.Format("2006-01-02 15:04 MST"))
	}
	if knowledge := strings.TrimSpace(input.UserKnowledge); knowledge != "" {
		fmt.Fprintf(&b, "Context about this speaker from earlier notes:\n%s\n\n", knowledge)
	}
	fmt.Fprintf(&b, "Transcript:\n%s", transcript)
	return b.String()
}

// mergeUserPrompt feeds the per-segment results back through the model so the
// final analysis reads as one document instead of a concatenation.
func mergeUserPrompt(partials []*NoteAnalysis, input Input) string {
	var b strings.Builder
	b.WriteString("The following are analyses of consecutive segments of one voice note. Merge them into a single coherent analysis of the whole note, deduplicating overlapping points.\n\n")
	if knowledge := strings.TrimSpace(input.UserKnowledge); knowledge != "" {
		fmt.Fprintf(&b, "Context about this speaker from earlier notes:\n%s\n\n", knowledge)
	}
	for i, partial := range partials {
		fmt.Fprintf(&b, "Segment %d summary: %s\n", i+1, partial.Summary)
		if len(partial.KeyPoints) > 0 {
			fmt.Fprintf(&b, "Segment %d key points: %s\n", i+1, strings.Join(partial.KeyPoints, "; "))
		}
		if len(partial.ActionItems) > 0 {
			fmt.Fprintf(&b, "Segment %d action items: %s\n", i+1, strings.Join(partial.ActionItems, "; "))
		}
		if len(partial.Topics) > 0 {
			fmt.Fprintf(&b, "Segment %d topics: %s\n", i+1, strings.Join(partial.Topics, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
