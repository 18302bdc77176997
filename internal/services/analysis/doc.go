// Package analysis turns transcripts into structured notes with a
// chat-completions model. Short transcripts go through a single completion;
// long or dense ones are segmented, summarized per segment, and merged in a
// final pass.
package analysis
