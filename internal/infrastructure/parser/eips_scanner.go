package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/scanner"
)

const (
	eipsBaseURL       = "https://eips.ethereum.org"
	eipsAllURL        = eipsBaseURL + "/all"
	detailConcurrency = 4
)

// EIPScanner reads the per-status tables of the EIP index page.
type EIPScanner struct {
	http httpGetter
}

var _ scanner.Scanner = (*EIPScanner)(nil)

// NewEIPScanner wires an HTTP client; nil gets a client with a 30s timeout.
func NewEIPScanner(client *http.Client, userAgent string) *EIPScanner {
	return &EIPScanner{http: newHTTPGetter(client, userAgent, "")}
}

// Name identifies the strategy inside the registry.
func (e *EIPScanner) Name() string {
	return "eips"
}

// Scan lists every EIP on the index page and enriches the newest ones from their own pages.
func (e *EIPScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Proposal, error) {
	pageURL := req.URL
	if pageURL == "" {
		pageURL = eipsAllURL
	}

	doc, err := e.http.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	items := extractEIPs(doc, pageURL)
	if len(items) == 0 {
		return nil, fmt.Errorf("no EIP tables found at %s", pageURL)
	}

	e.enrich(ctx, items, req.DetailLimit)
	return items, nil
}

func extractEIPs(doc *goquery.Document, pageURL string) []domain.Proposal {
	seen := map[int]struct{}{}
	var items []domain.Proposal

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		heading := strings.TrimSpace(table.PrevAllFiltered("h2, h3").First().Text())
		status := domain.NormalizeStatus(heading)

		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			item, ok := parseEIPRow(tr, pageURL)
			if !ok {
				return
			}
			if _, dup := seen[item.Number]; dup {
				return
			}
			seen[item.Number] = struct{}{}
			item.Status = status
			item.Summary = fmt.Sprintf("%s - %s EIP by %s", item.Title, status, item.Author)
			items = append(items, item)
		})
	})

	sort.Slice(items, func(i, j int) bool { return items[i].Number > items[j].Number })
	return items
}

// parseEIPRow accepts [Number, Title, Author] and [Number, Review ends, Title, Author] layouts.
func parseEIPRow(tr *goquery.Selection, pageURL string) (domain.Proposal, bool) {
	var cells []string
	tr.Find("td").Each(func(_ int, td *goquery.Selection) {
		cells = append(cells, cleanText(td.Text()))
	})
	if len(cells) < 3 {
		return domain.Proposal{}, false
	}

	number, err := strconv.Atoi(strings.TrimSpace(cells[0]))
	if err != nil {
		return domain.Proposal{}, false
	}

	title, author := cells[1], cells[2]
	if len(cells) >= 4 {
		title, author = cells[2], cells[3]
	}

	link := fmt.Sprintf("%s/EIPS/eip-%d", eipsBaseURL, number)
	if href, ok := tr.Find("a[href]").First().Attr("href"); ok && href != "" {
		link = absoluteURL(pageURL, href)
	}

	return domain.Proposal{
		Protocol: domain.ProtocolEthereum,
		Number:   number,
		Title:    title,
		Author:   author,
		Type:     "Standards Track",
		URL:      link,
	}, true
}

// enrich fills created date, type and abstract for the newest limit items.
// Detail failures leave the index data untouched.
func (e *EIPScanner) enrich(ctx context.Context, items []domain.Proposal, limit int) {
	if limit <= 0 {
		return
	}
	if limit > len(items) {
		limit = len(items)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)
	for i := 0; i < limit; i++ {
		i := i
		g.Go(func() error {
			doc, err := e.http.fetchDocument(gctx, items[i].URL)
			if err != nil {
				return nil
			}
			applyEIPDetail(&items[i], doc)
			return nil
		})
	}
	_ = g.Wait()
}

func applyEIPDetail(item *domain.Proposal, doc *goquery.Document) {
	doc.Find("table").First().Find("tr").Each(func(_ int, tr *goquery.Selection) {
		header := strings.ToLower(strings.TrimSpace(tr.Find("th").First().Text()))
		value := cleanText(tr.Find("td").First().Text())
		switch {
		case strings.Contains(header, "created"):
			if m := dateExpr.FindString(value); m != "" {
				item.CreatedDate = m
			}
		case header == "type" && value != "":
			item.Type = value
		}
	})

	abstract := doc.Find("h2#abstract").First().NextFiltered("p")
	if text := cleanText(abstract.Text()); text != "" {
		item.Summary = truncate(text, 300)
	}
}

func absoluteURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
