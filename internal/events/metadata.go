package events

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"submitline/internal/domain"
)

const (
	titleMinLength    = 5
	titleMaxLength    = 240
	abstractMinLength = 20
	abstractMaxLength = 1920
	mscMaxLength      = 160
	commentsMaxLength = 400
)

var (
	reWhitespace      = regexp.MustCompile(`\s+`)
	reTrailingPeriods = regexp.MustCompile(`\s*\.[\s.]*$`)
	reHTMLEscape      = regexp.MustCompile(`&(?:[a-z]{3,4}|#x?[0-9a-f]{1,4});`)
	reHTMLTag         = regexp.MustCompile(`</?\s*([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)
	allowedTitleTags  = map[string]bool{"br": true, "sup": true, "sub": true, "hr": true, "em": true, "strong": true, "h": true}

	reAbsSpaceNewline  = regexp.MustCompile(`[ ]+\n`)
	reAbsIndent        = regexp.MustCompile(`\n\s+`)
	reAbsJoinLines     = regexp.MustCompile(`(\S)\n(\S)`)
	reAbsMultiSpace    = regexp.MustCompile(`(^|[^\n])[ ]{2,}`)
	reAbsTexReturn     = regexp.MustCompile(`\s*\\\\(\n|$)`)
	reAbsLonePeriod    = regexp.MustCompile(`\n\.\n`)
	reAbsTrailingPoint = regexp.MustCompile(`\n\.$`)

	reDOISplit = regexp.MustCompile(`[;,]`)
	reDOI      = regexp.MustCompile(`^10\.\d{4,5}/\S+$`)

	reCommaSpace = regexp.MustCompile(`\s*,\s*`)
	reMSCPrefix  = regexp.MustCompile(`(?i)^MSC([\s:\-]{0,4}(classification|class|number))?([\s:\-]{0,4}\(?2000\)?)?[\s:\-]*`)
	reACMPrefix  = regexp.MustCompile(`(?i)^ACM-class:\s+`)
	reACMInsert  = regexp.MustCompile(`^([A-K])(\d)`)
	reACMClass   = regexp.MustCompile(`^[A-K]\.[0-9m](\.(\d{1,2}|m)(\.[a-o])?)?$`)

	reJournalYear    = regexp.MustCompile(`(\A|\D)(19|20)\d\d(\D|\z)`)
	journalForbidden = []string{"submit", "in press", "appear", "accept", "to be publ"}
	journalCasing    = []struct{ from, to string }{
		{"PHYSICAL REVIEW LETTERS", "Physical Review Letters"},
		{"PHYSICAL REVIEW", "Physical Review"},
		{"OPTICS LETTERS", "Optics Letters"},
	}

	reTwoDigits = regexp.MustCompile(`\d\d`)

	reDoubleCommas = regexp.MustCompile(`,(\s*,)+`)
	reWordParen    = regexp.MustCompile(`(\w)\(`)
	reParenWord    = regexp.MustCompile(`\)(\w)`)
	reAnd          = regexp.MustCompile(`\bA(?i:ND)\b`)
	reEtAl         = regexp.MustCompile(`et al\.?($|\s*\()`)
)

func collapseSpace(v string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(v, " "))
}

func stripTrailingPeriods(v string) string {
	return reTrailingPeriods.ReplaceAllString(v, "")
}

// isAllCaps reports whether v has at least one cased letter and no lower
// case letters.
func isAllCaps(v string) bool {
	cased := false
	for _, r := range v {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

type SetTitle struct {
	Title string `json:"title"`
}

func (*SetTitle) EventType() Type { return TypeSetTitle }

func (p *SetTitle) normalize() { p.Title = collapseSpace(p.Title) }

func (p *SetTitle) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if reHTMLEscape.MatchString(p.Title) {
		return e.invalid("Title may not contain HTML escapes")
	}
	if n := utf8.RuneCountInString(p.Title); n < titleMinLength || n > titleMaxLength {
		return e.invalid("Title must be between %d and %d characters", titleMinLength, titleMaxLength)
	}
	if err := noTrailingPeriod(e, p.Title); err != nil {
		return err
	}
	if isAllCaps(p.Title) {
		return e.invalid("Title must not be all-caps")
	}
	for _, m := range reHTMLTag.FindAllStringSubmatch(p.Title, -1) {
		if !allowedTitleTags[strings.ToLower(m[1])] {
			return e.invalid("Title contains unacceptable HTML tags")
		}
	}
	return nil
}

func (p *SetTitle) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.Title = p.Title
	return s
}

type SetAbstract struct {
	Abstract string `json:"abstract"`
}

func (*SetAbstract) EventType() Type { return TypeSetAbstract }

// normalize tidies paragraphs, which are marked by a newline followed by
// two spaces. A bare newline between words becomes a space.
func (p *SetAbstract) normalize() {
	v := strings.TrimSpace(p.Abstract)
	v = reAbsSpaceNewline.ReplaceAllString(v, "\n")
	v = reAbsIndent.ReplaceAllString(v, "\n  ")
	v = reAbsJoinLines.ReplaceAllString(v, "${1} ${2}")
	v = strings.ReplaceAll(v, "\t", " ")
	v = reAbsMultiSpace.ReplaceAllString(v, "${1} ")
	v = reAbsTexReturn.ReplaceAllString(v, "${1}")
	v = reAbsLonePeriod.ReplaceAllString(v, "\n")
	v = reAbsTrailingPoint.ReplaceAllString(v, "")
	p.Abstract = v
}

func (p *SetAbstract) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(p.Abstract); n < abstractMinLength || n > abstractMaxLength {
		return e.invalid("Abstract must be between %d and %d characters", abstractMinLength, abstractMaxLength)
	}
	return nil
}

func (p *SetAbstract) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.Abstract = p.Abstract
	return s
}

// SetDOI may be applied after announcement.
type SetDOI struct {
	DOI string `json:"doi"`
}

func (*SetDOI) EventType() Type { return TypeSetDOI }

func (p *SetDOI) normalize() { p.DOI = collapseSpace(p.DOI) }

func (p *SetDOI) validate(e *Event, s *domain.Submission) error {
	if err := notFinalizedUnlessAnnounced(e, s); err != nil {
		return err
	}
	if p.DOI == "" {
		return nil
	}
	for _, v := range reDOISplit.Split(p.DOI, -1) {
		v = strings.TrimSpace(v)
		if !reDOI.MatchString(v) {
			return e.invalid("Invalid DOI: %s", v)
		}
	}
	return nil
}

func (p *SetDOI) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.DOI = p.DOI
	return s
}

type SetMSCClassification struct {
	MSCClass string `json:"msc_class"`
}

func (*SetMSCClassification) EventType() Type { return TypeSetMSCClassification }

func (p *SetMSCClassification) normalize() {
	v := stripTrailingPeriods(collapseSpace(p.MSCClass))
	v = strings.ReplaceAll(v, ";", ",")
	v = reCommaSpace.ReplaceAllString(v, ", ")
	p.MSCClass = reMSCPrefix.ReplaceAllString(v, "")
}

func (p *SetMSCClassification) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if utf8.RuneCountInString(p.MSCClass) > mscMaxLength {
		return e.invalid("MSC classification must be no more than %d characters long", mscMaxLength)
	}
	return nil
}

func (p *SetMSCClassification) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.MSCClass = p.MSCClass
	return s
}

type SetACMClassification struct {
	ACMClass string `json:"acm_class"`
}

func (*SetACMClassification) EventType() Type { return TypeSetACMClassification }

func (p *SetACMClassification) normalize() {
	v := stripTrailingPeriods(collapseSpace(p.ACMClass))
	v = reACMPrefix.ReplaceAllString(v, "")
	if v == "" {
		p.ACMClass = ""
		return
	}
	v = strings.ReplaceAll(v, ",", ";")
	parts := strings.Split(v, ";")
	for i, part := range parts {
		part = strings.TrimRight(strings.ToUpper(strings.TrimSpace(part)), ".")
		part = reACMInsert.ReplaceAllString(part, "${1}.${2}")
		if strings.HasSuffix(part, "M") {
			part = part[:len(part)-1] + "m"
		}
		parts[i] = part
	}
	p.ACMClass = strings.Join(parts, "; ")
}

func (p *SetACMClassification) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if p.ACMClass == "" {
		return nil
	}
	for _, v := range strings.Split(p.ACMClass, ";") {
		v = strings.TrimSpace(v)
		if !reACMClass.MatchString(v) {
			return e.invalid("Not a valid ACM class: %s", v)
		}
	}
	return nil
}

func (p *SetACMClassification) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.ACMClass = p.ACMClass
	return s
}

// SetJournalReference may be applied after announcement.
type SetJournalReference struct {
	JournalRef string `json:"journal_ref"`
}

func (*SetJournalReference) EventType() Type { return TypeSetJournalReference }

func (p *SetJournalReference) normalize() {
	v := strings.TrimSpace(p.JournalRef)
	for _, c := range journalCasing {
		v = strings.ReplaceAll(v, c.from, c.to)
	}
	p.JournalRef = v
}

func (p *SetJournalReference) validate(e *Event, s *domain.Submission) error {
	if err := notFinalizedUnlessAnnounced(e, s); err != nil {
		return err
	}
	if p.JournalRef == "" {
		return nil
	}
	lowered := strings.ToLower(p.JournalRef)
	for _, w := range journalForbidden {
		if strings.Contains(lowered, w) {
			return e.invalid("The word '%s' should appear in the comments, not the Journal ref", w)
		}
	}
	if !reJournalYear.MatchString(p.JournalRef) {
		return e.invalid("Journal reference must include a year")
	}
	return nil
}

func (p *SetJournalReference) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.JournalRef = p.JournalRef
	return s
}

// SetReportNumber may be applied after announcement.
type SetReportNumber struct {
	ReportNum string `json:"report_num"`
}

func (*SetReportNumber) EventType() Type { return TypeSetReportNumber }

func (p *SetReportNumber) normalize() {
	p.ReportNum = stripTrailingPeriods(collapseSpace(p.ReportNum))
}

func (p *SetReportNumber) validate(e *Event, s *domain.Submission) error {
	if err := notFinalizedUnlessAnnounced(e, s); err != nil {
		return err
	}
	if p.ReportNum == "" {
		return nil
	}
	if !reTwoDigits.MatchString(p.ReportNum) {
		return e.invalid("Report number must contain two consecutive digits")
	}
	return nil
}

func (p *SetReportNumber) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.ReportNum = p.ReportNum
	return s
}

type SetComments struct {
	Comments string `json:"comments"`
}

func (*SetComments) EventType() Type { return TypeSetComments }

func (p *SetComments) normalize() {
	p.Comments = stripTrailingPeriods(collapseSpace(p.Comments))
}

func (p *SetComments) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if utf8.RuneCountInString(p.Comments) > commentsMaxLength {
		return e.invalid("Comments must be no more than %d characters long", commentsMaxLength)
	}
	return nil
}

func (p *SetComments) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.Comments = p.Comments
	return s
}

// SetAuthors replaces the author list. When no display string is given it
// is derived from the authors' display names.
type SetAuthors struct {
	Authors        []domain.Author `json:"authors"`
	AuthorsDisplay string          `json:"authors_display,omitempty"`
}

func (*SetAuthors) EventType() Type { return TypeSetAuthors }

func (p *SetAuthors) normalize() {
	names := make([]string, 0, len(p.Authors))
	for i := range p.Authors {
		a := &p.Authors[i]
		if a.Identifier == "" {
			a.Identifier = authorIdentifier(*a)
		}
		if a.Display == "" {
			a.Display = a.Canonical()
		}
		if a.Display != "" {
			names = append(names, a.Display)
		}
	}
	if p.AuthorsDisplay == "" {
		p.AuthorsDisplay = strings.Join(names, ", ")
	}
	v := reWhitespace.ReplaceAllString(p.AuthorsDisplay, " ")
	v = reDoubleCommas.ReplaceAllString(v, ",")
	v = reWordParen.ReplaceAllString(v, "${1} (")
	v = reParenWord.ReplaceAllString(v, ") ${1}")
	v = reAnd.ReplaceAllString(v, "and")
	p.AuthorsDisplay = strings.TrimSpace(v)
}

func authorIdentifier(a domain.Author) string {
	key := strings.Join([]string{a.Forename, a.Surname, a.Initials, a.Affiliation, a.Email}, ":")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (p *SetAuthors) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if p.AuthorsDisplay != "" && reEtAl.MatchString(p.AuthorsDisplay) {
		return e.invalid("Authors should not contain et al.")
	}
	return nil
}

func (p *SetAuthors) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Metadata.Authors = append([]domain.Author(nil), p.Authors...)
	s.Metadata.AuthorsDisplay = p.AuthorsDisplay
	return s
}

type SetLicense struct {
	LicenseURI  string `json:"license_uri"`
	LicenseName string `json:"license_name,omitempty"`
}

func (*SetLicense) EventType() Type { return TypeSetLicense }

func (p *SetLicense) validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if strings.TrimSpace(p.LicenseURI) == "" {
		return e.invalid("License URI is required")
	}
	return nil
}

func (p *SetLicense) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.License = &domain.License{URI: p.LicenseURI, Name: p.LicenseName}
	return s
}
