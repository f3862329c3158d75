package validate

// ResearchSections is the fixed set of top-level sections research.md must
// contain, in the order the phase prompt asks the agent to produce them.
var ResearchSections = []string{
	"Summary",
	"Current State Analysis",
	"Key Files",
	"Technical Considerations",
	"Risks and Mitigations",
	"Recommended Approach",
	"Open Questions",
}

// minParagraphsPerSection is the floor below which a section is considered
// a stub rather than real content.
const minParagraphsPerSection = 1

// Research checks research.md for the required section headers, a minimum
// paragraph count per section, and at least one file-path-like citation
// under "Key Files".
func Research(content []byte) Result {
	sections := parseMarkdownSections(content)

	var defects []string
	for _, want := range ResearchSections {
		sec, found := hasSection(sections, want)
		if !found {
			defects = append(defects, "missing required section: "+want)
			continue
		}
		if sec.paragraphCount < minParagraphsPerSection {
			defects = append(defects, "section has no content: "+want)
		}
	}

	if keyFiles, found := hasSection(sections, "Key Files"); found {
		if !looksLikeFilePath(keyFiles.text) && !anyCodeSpanLooksLikePath(keyFiles.codeSpans) {
			defects = append(defects, "\"Key Files\" section cites no file paths")
		}
	}

	if len(defects) > 0 {
		return fail(defects...)
	}
	return ok()
}

func anyCodeSpanLooksLikePath(spans []string) bool {
	for _, s := range spans {
		if looksLikeFilePath(s) {
			return true
		}
	}
	return false
}
