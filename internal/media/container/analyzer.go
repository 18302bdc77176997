package container

import (
	"bytes"
	"fmt"
	"strings"
)

// Format identifies a detected container family.
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatWebM    Format = "webm"
	FormatMP4     Format = "mp4"
	FormatUnknown Format = "unknown"
)

// CompatibleScore is the minimum score at which a container is accepted
// without conversion.
const CompatibleScore = 70

// HeaderSize is how many leading bytes Analyze needs to see.
const HeaderSize = 64

// Track describes one stream inside the container.
type Track struct {
	Kind      string // audio or video
	Codec     string
	Supported bool
}

// Info is the derived result of analyzing one buffer.
type Info struct {
	Format          Format
	Brand           string
	Score           int
	Compatible      bool
	NeedsConversion bool
	Tracks          []Track
	Warnings        []string
	Recommendations []string
}

// signature pairs a byte pattern at a fixed offset with the format it
// identifies. Tested in priority order; the first full match wins.
type signature struct {
	offset int
	magic  []byte
	format Format
}

var signatures = []signature{
	{offset: 0, magic: []byte("RIFF"), format: FormatWAV}, // confirmed by WAVE at 8
	{offset: 0, magic: []byte("ID3"), format: FormatMP3},
	{offset: 0, magic: []byte("OggS"), format: FormatOGG},
	{offset: 0, magic: []byte{0x1A, 0x45, 0xDF, 0xA3}, format: FormatWebM},
	{offset: 4, magic: []byte("ftyp"), format: FormatMP4},
}

var containerScores = map[Format]int{
	FormatWAV:  100,
	FormatMP3:  95,
	FormatOGG:  90,
	FormatWebM: 85,
	FormatMP4:  70,
}

// brandScores refines the MP4 baseline per ftyp brand. Audio-oriented brands
// score near the baseline; video-oriented brands score low enough to force
// conversion.
var brandScores = map[string]int{
	"isom": 75,
	"iso2": 74,
	"mp41": 72,
	"mp42": 72,
	"M4A ": 65,
	"M4B ": 60,
	"3gp4": 55,
	"M4V ": 35,
	"M4VH": 30,
	"M4VP": 30,
}

const unknownBrandScore = 40

var videoBrands = map[string]struct{}{
	"M4V ": {},
	"M4VH": {},
	"M4VP": {},
}

// Analyze inspects the leading bytes of a media buffer together with the
// declared MIME type and filename and scores transcription compatibility.
// It is a pure function; warnings and recommendations are always populated
// in order and never dropped.
func Analyze(header []byte, mimeType, filename string) Info {
	info := Info{Format: FormatUnknown}

	format := detectFormat(header)
	if format == FormatUnknown {
		info.Warnings = append(info.Warnings,
			"unrecognized container signature; transcription may reject this file")
		if guessed := guessFromName(mimeType, filename); guessed != FormatUnknown {
			info.Warnings = append(info.Warnings,
				fmt.Sprintf("declared type suggests %s but the header does not match", guessed))
		}
		info.Recommendations = append(info.Recommendations, "convert to WAV before uploading")
		info.NeedsConversion = true
		return info
	}
	info.Format = format

	score := containerScores[format]
	if format == FormatMP4 {
		brand := extractBrand(header)
		info.Brand = brand
		if brandScore, ok := brandScores[brand]; ok {
			score = brandScore
		} else {
			score = unknownBrandScore
			info.Warnings = append(info.Warnings,
				fmt.Sprintf("unknown MP4 brand %q; codec support cannot be assumed", brand))
		}
		if _, ok := videoBrands[brand]; ok {
			info.Warnings = append(info.Warnings,
				fmt.Sprintf("MP4 brand %q is video-oriented; the audio track may use an unsupported codec", brand))
		}
	}

	info.Tracks = deriveTracks(format, info.Brand)
	totalAudio, supportedAudio := 0, 0
	for _, track := range info.Tracks {
		if track.Kind != "audio" {
			continue
		}
		totalAudio++
		if track.Supported {
			supportedAudio++
		}
	}
	if totalAudio == 0 {
		score = 0
		info.Warnings = append(info.Warnings, "no audio tracks detected")
	} else {
		score = score * supportedAudio / totalAudio
	}

	info.Score = score
	info.Compatible = score >= CompatibleScore
	info.NeedsConversion = !info.Compatible
	if info.NeedsConversion {
		info.Recommendations = append(info.Recommendations, "convert to WAV for reliable transcription")
	}
	return info
}

func detectFormat(header []byte) Format {
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(header) < end {
			continue
		}
		if !bytes.Equal(header[sig.offset:end], sig.magic) {
			continue
		}
		// RIFF containers must also carry WAVE to be audio.
		if sig.format == FormatWAV {
			if len(header) < 12 || !bytes.Equal(header[8:12], []byte("WAVE")) {
				continue
			}
		}
		return sig.format
	}
	// Raw MPEG audio without an ID3 tag starts at a frame sync.
	if len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0 {
		return FormatMP3
	}
	return FormatUnknown
}

// extractBrand reads the four-character major brand from bytes 8-12 of the
// ftyp box. Padding spaces are significant ("M4A " vs "M4A").
func extractBrand(header []byte) string {
	if len(header) < 12 {
		return ""
	}
	return string(header[8:12])
}

func deriveTracks(format Format, brand string) []Track {
	switch format {
	case FormatWAV:
		return []Track{{Kind: "audio", Codec: "pcm", Supported: true}}
	case FormatMP3:
		return []Track{{Kind: "audio", Codec: "mp3", Supported: true}}
	case FormatOGG:
		return []Track{{Kind: "audio", Codec: "vorbis", Supported: true}}
	case FormatWebM:
		return []Track{{Kind: "audio", Codec: "opus", Supported: true}}
	case FormatMP4:
		tracks := []Track{{Kind: "audio", Codec: "aac", Supported: true}}
		if _, ok := videoBrands[brand]; ok {
			tracks = append(tracks, Track{Kind: "video", Codec: "h264", Supported: false})
		}
		return tracks
	default:
		return nil
	}
}

func guessFromName(mimeType, filename string) Format {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(mimeType, "wav"):
		return FormatWAV
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return FormatMP3
	case strings.Contains(mimeType, "ogg"):
		return FormatOGG
	case strings.Contains(mimeType, "webm"):
		return FormatWebM
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "m4a"):
		return FormatMP4
	}

	switch strings.ToLower(strings.TrimSpace(lastExt(filename))) {
	case ".wav":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".ogg", ".oga":
		return FormatOGG
	case ".webm":
		return FormatWebM
	case ".mp4", ".m4a", ".m4b", ".m4v":
		return FormatMP4
	}
	return FormatUnknown
}

func lastExt(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		return filename[idx:]
	}
	return ""
}

// MIMEType returns the canonical MIME type for a detected format, used when
// re-declaring converted buffers to the transcription service.
func (f Format) MIMEType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatOGG:
		return "audio/ogg"
	case FormatWebM:
		return "audio/webm"
	case FormatMP4:
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
