package language

import "strings"

type entry struct {
	code2   string   // ISO 639-1 (2-letter)
	display string   // Human-readable name
	words   []string // Full word forms (e.g. "english")
}

var languages = []entry{
	{"en", "English", []string{"english", "eng"}},
	{"es", "Spanish", []string{"spanish", "spa"}},
	{"fr", "French", []string{"french", "fra", "fre"}},
	{"de", "German", []string{"german", "deu", "ger"}},
	{"it", "Italian", []string{"italian", "ita"}},
	{"pt", "Portuguese", []string{"portuguese", "por"}},
	{"ja", "Japanese", []string{"japanese", "jpn"}},
	{"ko", "Korean", []string{"korean", "kor"}},
	{"zh", "Chinese", []string{"chinese", "zho", "chi"}},
	{"ru", "Russian", []string{"russian", "rus"}},
	{"ar", "Arabic", []string{"arabic", "ara"}},
	{"hi", "Hindi", []string{"hindi", "hin"}},
	{"nl", "Dutch", []string{"dutch", "nld", "dut"}},
	{"pl", "Polish", []string{"polish", "pol"}},
	{"sv", "Swedish", []string{"swedish", "swe"}},
	{"da", "Danish", []string{"danish", "dan"}},
	{"no", "Norwegian", []string{"norwegian", "nor"}},
	{"fi", "Finnish", []string{"finnish", "fin"}},
	{"tr", "Turkish", []string{"turkish", "tur"}},
	{"uk", "Ukrainian", []string{"ukrainian", "ukr"}},
}

// Index maps built at init time.
var (
	byCode2 map[string]*entry
	byWord  map[string]*entry
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byWord = make(map[string]*entry, len(languages)*2)
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if e, ok := byCode2[code]; ok {
		return e
	}
	if e, ok := byWord[code]; ok {
		return e
	}
	return nil
}

// ToISO2 normalizes any recognized language code or word to ISO 639-1.
// Unrecognized 2-letter codes pass through; anything else returns "".
func ToISO2(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if e := lookup(code); e != nil {
		return e.code2
	}
	if len(code) == 2 {
		return code
	}
	return ""
}

// DisplayName returns a human-readable language name for any recognized code.
// Returns "Unknown" for empty input, or the uppercased code for unrecognized
// input.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	if e := lookup(code); e != nil {
		return e.display
	}
	return strings.ToUpper(strings.TrimSpace(code))
}
