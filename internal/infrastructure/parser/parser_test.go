package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/scanner"
)

const eipIndexHTML = `
<html><body>
<h2 id="final">Final</h2>
<table class="eiptable">
  <tr><th>Number</th><th>Title</th><th>Author</th></tr>
  <tr><td class="eipnum"><a href="/EIPS/eip-1559">1559</a></td><td>Fee market change for ETH 1.0 chain</td><td>Vitalik Buterin</td></tr>
</table>
<h2 id="last-call">Last Call</h2>
<table class="eiptable">
  <tr><th>Number</th><th>Review ends</th><th>Title</th><th>Author</th></tr>
  <tr><td><a href="/EIPS/eip-7702">7702</a></td><td>2025-05-01</td><td>Set EOA account code</td><td>Someone</td></tr>
</table>
<h2 id="draft">Draft</h2>
<table class="eiptable">
  <tr><th>Number</th><th>Title</th><th>Author</th></tr>
  <tr><td><a href="/EIPS/eip-7999">7999</a></td><td>Unified &amp; multidimensional <b>fee</b> market</td><td>Anon</td></tr>
  <tr><td>n/a</td><td>broken row</td><td>x</td></tr>
</table>
</body></html>`

const eipDetailHTML = `
<html><body>
<table>
  <tr><th>Author</th><td>Anon</td></tr>
  <tr><th>Type</th><td>Standards Track</td></tr>
  <tr><th>Created</th><td>2025-09-30</td></tr>
</table>
<h2 id="abstract">Abstract</h2>
<p>Introduces a <em>unified</em> fee market.</p>
</body></html>`

func TestExtractEIPs(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(eipIndexHTML))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	items := extractEIPs(doc, "https://eips.ethereum.org/all")
	if len(items) != 3 {
		t.Fatalf("expected 3 EIPs, got %d", len(items))
	}

	if items[0].Number != 7999 || items[0].Status != domain.StatusDraft {
		t.Fatalf("unexpected newest item: %+v", items[0])
	}
	if items[0].Title != "Unified & multidimensional fee market" {
		t.Fatalf("markup not stripped from title: %q", items[0].Title)
	}
	if items[1].Number != 7702 || items[1].Status != domain.StatusLastCall || items[1].Title != "Set EOA account code" {
		t.Fatalf("four column layout misparsed: %+v", items[1])
	}
	if items[2].URL != "https://eips.ethereum.org/EIPS/eip-1559" {
		t.Fatalf("unexpected url: %s", items[2].URL)
	}
}

func TestEIPScannerScanEnrichesNewest(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/all", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(eipIndexHTML))
	})
	mux.HandleFunc("/EIPS/eip-7999", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(eipDetailHTML))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sc := NewEIPScanner(server.Client(), "")
	items, err := sc.Scan(context.Background(), scanner.Request{URL: server.URL + "/all", DetailLimit: 1})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}

	if items[0].CreatedDate != "2025-09-30" {
		t.Fatalf("created date not applied: %+v", items[0])
	}
	if items[0].Summary != "Introduces a unified fee market." {
		t.Fatalf("unexpected summary: %q", items[0].Summary)
	}
	if !strings.HasPrefix(items[0].URL, server.URL) {
		t.Fatalf("relative link not resolved against page: %s", items[0].URL)
	}
}

func TestEIPScannerHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := NewEIPScanner(server.Client(), "").Scan(context.Background(), scanner.Request{URL: server.URL}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestGitHubScannerScan(t *testing.T) {
	t.Parallel()

	var sawToken atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/tronprotocol/tips", func(w http.ResponseWriter, r *http.Request) {
		sawToken.Store(r.Header.Get("Authorization") == "Bearer tok")
		_, _ = w.Write([]byte(`<html><body>
			<a href="/tronprotocol/tips/blob/master/tip-540.md">tip-540.md</a>
			<a href="/tronprotocol/tips/blob/master/tip-541.md">tip-541.md</a>
			<a href="/tronprotocol/tips/blob/master/tip-542.md">tip-542.md</a>
			<a href="/tronprotocol/tips/blob/master/README.md">README.md</a>
		</body></html>`))
	})
	mux.HandleFunc("/raw/tronprotocol/tips/master/tip-542.md", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("```\ntip: 542\ntitle: Gas fee reduction\nauthor: dev <dev@tron.network>\nstatus: Draft\ntype: Standards Track\ncreated: 2025-03-01\n```\n\n## Simple Summary\nLower the energy price for transfers.\n"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sc := NewGitHubScanner(server.Client(), "", "tok")
	sc.webBase = server.URL
	sc.rawBase = server.URL + "/raw"

	items, err := sc.Scan(context.Background(), scanner.Request{
		Protocol:    domain.ProtocolTron,
		URL:         "https://github.com/tronprotocol/tips",
		Options:     map[string]string{"pattern": `^tip-(\d+)\.md$`},
		DetailLimit: 1,
	})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}

	if !sawToken.Load() {
		t.Fatalf("expected bearer token on listing request")
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 TIPs, got %d", len(items))
	}
	newest := items[0]
	if newest.Number != 542 || newest.Title != "Gas fee reduction" || newest.CreatedDate != "2025-03-01" {
		t.Fatalf("preamble not applied: %+v", newest)
	}
	if newest.Summary != "Lower the energy price for transfers." {
		t.Fatalf("unexpected summary: %q", newest.Summary)
	}
	if items[2].Title != "TIP-540" || items[2].Status != domain.StatusDraft {
		t.Fatalf("unexpected placeholder: %+v", items[2])
	}
	want := server.URL + "/tronprotocol/tips/blob/master/tip-541.md"
	if items[1].URL != want {
		t.Fatalf("url = %s, want %s", items[1].URL, want)
	}
}

func TestListRepoFilesEmbeddedPayload(t *testing.T) {
	t.Parallel()

	page := `<script type="application/json">{"items":[{"name":"bip-0341.mediawiki","path":"bip-0341.mediawiki"},{"name":"bip-0009.mediawiki"}]}</script>`
	files := listRepoFiles(page, mustPattern(t, `^bip-(\d+)\.(mediawiki|md)$`))

	if len(files) != 2 || files[0].number != 341 || files[1].number != 9 {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestGitHubScannerRejectsBadPattern(t *testing.T) {
	t.Parallel()

	sc := NewGitHubScanner(nil, "", "")
	_, err := sc.Scan(context.Background(), scanner.Request{URL: "https://github.com/a/b", Options: map[string]string{"pattern": "tip"}})
	if err == nil {
		t.Fatalf("expected error for pattern without group")
	}
}

func TestParsePreambleFormats(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		content string
		title   string
		status  string
		created string
	}{
		"yaml": {
			content: "---\neip: 4844\ntitle: Shard Blob Transactions\nstatus: Final\ncreated: 2022-02-25\n---\n\n## Abstract\nBlobs.\n",
			title:   "Shard Blob Transactions", status: "Final", created: "2022-02-25",
		},
		"mediawiki": {
			content: "<pre>\n  BIP: 341\n  Title: Taproot: SegWit version 1 spending rules\n  Status: Final\n  Created: 2020-01-19\n</pre>\n\n==Introduction==\nThis document proposes...\n",
			title:   "Taproot: SegWit version 1 spending rules", status: "Final", created: "2020-01-19",
		},
		"fenced": {
			content: "```\ntip: 12\ntitle: Event subscribe\nstatus: Final\ncreated: 2018-12-27\n```\n",
			title:   "Event subscribe", status: "Final", created: "2018-12-27",
		},
	}

	for name, tc := range cases {
		p := parsePreamble(tc.content)
		if p.Title != tc.title || p.Status != tc.status || p.Created != tc.created {
			t.Fatalf("%s: unexpected preamble %+v", name, p)
		}
	}
}

func TestStrategySourceFetchListing(t *testing.T) {
	t.Parallel()

	reg := scanner.NewRegistry()
	reg.Register(fixedScanner{items: []domain.Proposal{{Number: 2}, {Number: 1}}})

	src := NewStrategySource(reg, []config.ProtocolConfig{
		{ID: "tron", Scanner: "fixed", URL: "https://example.test/tips"},
		{ID: "dogecoin", Scanner: "fixed"},
	}, 0, nil)

	listing, err := src.FetchListing(context.Background(), domain.ProtocolTron)
	if err != nil {
		t.Fatalf("FetchListing: %v", err)
	}
	if listing.Count != 2 || listing.Source != "https://example.test/tips" || listing.Items[0].Protocol != domain.ProtocolTron {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	if _, err := src.FetchListing(context.Background(), domain.ProtocolBitcoin); err == nil {
		t.Fatalf("expected unknown protocol error")
	}
}

type fixedScanner struct{ items []domain.Proposal }

func (f fixedScanner) Name() string { return "fixed" }

func (f fixedScanner) Scan(context.Context, scanner.Request) ([]domain.Proposal, error) {
	out := make([]domain.Proposal, len(f.items))
	copy(out, f.items)
	return out, nil
}

func mustPattern(t *testing.T, expr string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(expr)
	if err != nil {
		t.Fatalf("compile %s: %v", expr, err)
	}
	return re
}
