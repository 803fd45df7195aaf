// Package reviews imports the Boost formal review schedule published on
// boost.org.
package reviews

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	scheduleTable = "table[summary='Formal Review Schedule']"
	resultsTable  = "table[summary='Review Results']"
)

// Review is one row of either review table.
type Review struct {
	Submission        string
	SubmitterRaw      string
	ReviewManagerRaw  string
	ReviewDates       string
	GithubLink        string
	DocumentationLink string
	Results           []Result
}

// Result is an outcome announced for a past review.
type Result struct {
	ShortDescription string
	AnnouncementLink string
	IsMostRecent     bool
}

// Parse reads the review schedule page and returns upcoming and past
// reviews in page order.
func Parse(r io.Reader) (upcoming, past []Review, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse review page: %w", err)
	}

	schedule := doc.Find(scheduleTable).First()
	if schedule.Length() == 0 {
		return nil, nil, fmt.Errorf("review schedule table not found")
	}
	results := doc.Find(resultsTable).First()
	if results.Length() == 0 {
		return nil, nil, fmt.Errorf("review results table not found")
	}

	return parseTable(schedule, false), parseTable(results, true), nil
}

func parseTable(table *goquery.Selection, past bool) []Review {
	reviews := []Review{}
	// Column layout differs: upcoming rows carry a links cell at index 2.
	manager, dates := 3, 4
	if past {
		manager, dates = 2, 3
	}

	table.Find("tr").Slice(1, goquery.ToEnd).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 || text(cells.Eq(0)) == "" {
			return
		}
		if cells.Length() <= dates || (past && cells.Length() < 5) {
			return
		}

		rv := Review{
			Submission:       text(cells.Eq(0)),
			SubmitterRaw:     text(cells.Eq(1)),
			ReviewManagerRaw: text(cells.Eq(manager)),
			ReviewDates:      text(cells.Eq(dates)),
		}

		if past {
			rv.Results = parseResults(cells.Eq(4))
		} else {
			cells.Eq(2).Find("a").Each(func(_ int, a *goquery.Selection) {
				label := strings.ToLower(a.Text())
				switch {
				case strings.Contains(label, "github"):
					rv.GithubLink = a.AttrOr("href", "")
				case strings.Contains(label, "documentation"):
					rv.DocumentationLink = a.AttrOr("href", "")
				}
			})
		}

		reviews = append(reviews, rv)
	})
	return reviews
}

// parseResults reads a result cell: struck-through links are superseded
// results, plain links the current one.
func parseResults(cell *goquery.Selection) []Result {
	results := []Result{}
	cell.Contents().Each(func(_ int, node *goquery.Selection) {
		switch goquery.NodeName(node) {
		case "del":
			a := node.Find("a").First()
			if a.Length() > 0 {
				results = append(results, Result{
					ShortDescription: text(a),
					AnnouncementLink: a.AttrOr("href", ""),
				})
			}
		case "a":
			results = append(results, Result{
				ShortDescription: text(node),
				AnnouncementLink: node.AttrOr("href", ""),
				IsMostRecent:     true,
			})
		}
	})

	if len(results) == 0 {
		if desc := text(cell); desc != "" {
			results = append(results, Result{ShortDescription: desc})
		}
	}
	return results
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
