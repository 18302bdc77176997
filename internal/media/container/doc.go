// Package container inspects the leading bytes of a media buffer to identify
// its container family and score how reliably the transcription service will
// accept it. Detection is a priority-ordered table of magic-byte signatures;
// MP4 brand extraction is a secondary lookup that only runs once the ftyp
// box is confirmed.
package container
