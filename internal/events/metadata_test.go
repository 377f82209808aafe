package events_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/domain"
	"submitline/internal/events"
)

func TestMetadataCleanup(t *testing.T) {
	title := &events.SetTitle{Title: "  A   spaced\n title "}
	events.NewDraft(submitter, title).Stamp(t0)
	assert.Equal(t, "A spaced title", title.Title)

	abstract := &events.SetAbstract{Abstract: "First paragraph line\none.\n  Second paragraph.  "}
	events.NewDraft(submitter, abstract).Stamp(t0)
	assert.Equal(t, "First paragraph line one.\n  Second paragraph.", abstract.Abstract)

	msc := &events.SetMSCClassification{MSCClass: "MSC 2000: 14J60; 14F05."}
	events.NewDraft(submitter, msc).Stamp(t0)
	assert.Equal(t, "14J60, 14F05", msc.MSCClass)

	acm := &events.SetACMClassification{ACMClass: "f.2.2, i.2.7."}
	events.NewDraft(submitter, acm).Stamp(t0)
	assert.Equal(t, "F.2.2; I.2.7", acm.ACMClass)

	jref := &events.SetJournalReference{JournalRef: " PHYSICAL REVIEW LETTERS 99 (2007) 1 "}
	events.NewDraft(submitter, jref).Stamp(t0)
	assert.Equal(t, "Physical Review Letters 99 (2007) 1", jref.JournalRef)

	authors := &events.SetAuthors{AuthorsDisplay: "Jane Doe AND  John Smith(MIT)"}
	events.NewDraft(submitter, authors).Stamp(t0)
	assert.Equal(t, "Jane Doe and John Smith (MIT)", authors.AuthorsDisplay)
}

func TestCleanupIsIdempotent(t *testing.T) {
	abstract := &events.SetAbstract{Abstract: "Line one\nline two.\n\n   Next   paragraph \\\\\n."}
	events.NewDraft(submitter, abstract).Stamp(t0)
	once := abstract.Abstract
	events.NewDraft(submitter, abstract).Stamp(t0)
	assert.Equal(t, once, abstract.Abstract)
}

func TestAuthorsDerivedFromList(t *testing.T) {
	authors := &events.SetAuthors{Authors: []domain.Author{
		{Order: 0, Forename: "Jane", Surname: "Doe", Affiliation: "CERN"},
		{Order: 1, Forename: "John", Initials: "Q.", Surname: "Smith"},
	}}
	events.NewDraft(submitter, authors).Stamp(t0)
	assert.Equal(t, "Jane Doe (CERN), John Q. Smith", authors.AuthorsDisplay)
	require.Len(t, authors.Authors, 2)
	assert.NotEmpty(t, authors.Authors[0].Identifier)
	assert.NotEqual(t, authors.Authors[0].Identifier, authors.Authors[1].Identifier)
}

func TestMetadataValidation(t *testing.T) {
	s := populated(t)
	cases := []struct {
		name    string
		payload events.Payload
		message string
	}{
		{"title escape", &events.SetTitle{Title: "Fast &amp; furious results"}, "Invalid SetTitle: Title may not contain HTML escapes"},
		{"title short", &events.SetTitle{Title: "Tiny"}, "Invalid SetTitle: Title must be between 5 and 240 characters"},
		{"title long", &events.SetTitle{Title: strings.Repeat("a", 241)}, "Invalid SetTitle: Title must be between 5 and 240 characters"},
		{"title period", &events.SetTitle{Title: "A title that ends."}, "Invalid SetTitle: Must not contain trailing periods except ellipses."},
		{"title tags", &events.SetTitle{Title: "A <script>bad</script> title"}, "Invalid SetTitle: Title contains unacceptable HTML tags"},
		{"abstract short", &events.SetAbstract{Abstract: "Too short."}, "Invalid SetAbstract: Abstract must be between 20 and 1920 characters"},
		{"doi", &events.SetDOI{DOI: "10.1000/ok; doi:bad"}, "Invalid SetDOI: Invalid DOI: doi:bad"},
		{"msc", &events.SetMSCClassification{MSCClass: strings.Repeat("1", 161)}, "Invalid SetMSCClassification: MSC classification must be no more than 160 characters long"},
		{"acm", &events.SetACMClassification{ACMClass: "Z.9"}, "Invalid SetACMClassification: Not a valid ACM class: Z.9"},
		{"journal word", &events.SetJournalReference{JournalRef: "Submitted to Nature 2021"}, "Invalid SetJournalReference: The word 'submit' should appear in the comments, not the Journal ref"},
		{"journal year", &events.SetJournalReference{JournalRef: "Nature 512, 33"}, "Invalid SetJournalReference: Journal reference must include a year"},
		{"report", &events.SetReportNumber{ReportNum: "CERN-TH-A"}, "Invalid SetReportNumber: Report number must contain two consecutive digits"},
		{"comments", &events.SetComments{Comments: strings.Repeat("c", 401)}, "Invalid SetComments: Comments must be no more than 400 characters long"},
		{"et al", &events.SetAuthors{AuthorsDisplay: "Jane Doe et al."}, "Invalid SetAuthors: Authors should not contain et al."},
		{"license", &events.SetLicense{}, "Invalid SetLicense: License URI is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := replay(t, s, submitter, tc.payload)
			requireInvalid(t, err, tc.message)
		})
	}

	accepted := []events.Payload{
		&events.SetTitle{Title: "Superconductivity in H<sub>3</sub>S"},
		&events.SetTitle{Title: "A title that trails..."},
		&events.SetDOI{DOI: "10.1000/a, 10.12345/b"},
		&events.SetJournalReference{JournalRef: "Nature 512 (2014) 33"},
	}
	for _, p := range accepted {
		_, _, err := replay(t, s, submitter, p)
		require.NoError(t, err, p.EventType())
	}
}
