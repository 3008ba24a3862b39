package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/scanner"
)

const (
	githubWebURL  = "https://github.com"
	githubRawURL  = "https://raw.githubusercontent.com"
	defaultBranch = "master"
)

var embeddedPathExpr = regexp.MustCompile(`"(?:path|name)":"([^"]+)"`)

// GitHubScanner lists proposal files of a GitHub repository page and reads
// the preamble of the newest ones from raw.githubusercontent.com.
type GitHubScanner struct {
	http    httpGetter
	webBase string
	rawBase string
}

var _ scanner.Scanner = (*GitHubScanner)(nil)

// NewGitHubScanner wires an HTTP client and an optional API token.
func NewGitHubScanner(client *http.Client, userAgent, token string) *GitHubScanner {
	return &GitHubScanner{
		http:    newHTTPGetter(client, userAgent, token),
		webBase: githubWebURL,
		rawBase: githubRawURL,
	}
}

// Name identifies the strategy inside the registry.
func (g *GitHubScanner) Name() string {
	return "github"
}

type repoFile struct {
	number int
	file   string
}

// Scan requires options "pattern" (regexp with the number as first group);
// "dir" and "branch" are optional.
func (g *GitHubScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Proposal, error) {
	owner, repo, err := splitRepoURL(req.URL)
	if err != nil {
		return nil, err
	}
	pattern, err := regexp.Compile(req.Option("pattern", ""))
	if err != nil || pattern.NumSubexp() < 1 {
		return nil, fmt.Errorf("protocol %s: option pattern must be a regexp with a number group", req.Protocol)
	}
	branch := req.Option("branch", defaultBranch)
	dir := strings.Trim(req.Option("dir", ""), "/")

	listURL := fmt.Sprintf("%s/%s/%s", g.webBase, owner, repo)
	if dir != "" {
		listURL = fmt.Sprintf("%s/tree/%s/%s", listURL, branch, dir)
	}

	body, err := g.http.get(ctx, listURL)
	if err != nil {
		return nil, err
	}

	files := listRepoFiles(string(body), pattern)
	if len(files) == 0 {
		return nil, fmt.Errorf("no files matching %s at %s", pattern, listURL)
	}

	items := make([]domain.Proposal, len(files))
	for i, f := range files {
		filePath := path.Join(dir, f.file)
		items[i] = domain.Proposal{
			Protocol: req.Protocol,
			Number:   f.number,
			Title:    fmt.Sprintf("%s-%d", req.Protocol.Prefix(), f.number),
			Status:   domain.StatusDraft,
			URL:      fmt.Sprintf("%s/%s/%s/blob/%s/%s", g.webBase, owner, repo, branch, filePath),
			Summary:  fmt.Sprintf("%s-%d proposal", req.Protocol.Prefix(), f.number),
		}
	}

	g.enrich(ctx, items, files, req.DetailLimit, func(f repoFile) string {
		return fmt.Sprintf("%s/%s/%s/%s/%s", g.rawBase, owner, repo, branch, path.Join(dir, f.file))
	})
	return items, nil
}

// listRepoFiles collects matching file names from anchors, falling back to
// the JSON payload GitHub embeds in its React pages. Newest number first.
func listRepoFiles(page string, pattern *regexp.Regexp) []repoFile {
	byNumber := map[int]string{}
	add := func(candidate string) {
		name := path.Base(candidate)
		m := pattern.FindStringSubmatch(name)
		if m == nil {
			return
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		if _, ok := byNumber[n]; !ok {
			byNumber[n] = name
		}
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page)); err == nil {
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if strings.Contains(href, "/blob/") {
				add(href)
			}
		})
	}
	if len(byNumber) == 0 {
		for _, m := range embeddedPathExpr.FindAllStringSubmatch(page, -1) {
			add(m[1])
		}
	}

	files := make([]repoFile, 0, len(byNumber))
	for n, name := range byNumber {
		files = append(files, repoFile{number: n, file: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].number > files[j].number })
	return files
}

func (g *GitHubScanner) enrich(ctx context.Context, items []domain.Proposal, files []repoFile, limit int, rawURL func(repoFile) string) {
	if limit <= 0 {
		return
	}
	if limit > len(items) {
		limit = len(items)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(detailConcurrency)
	for i := 0; i < limit; i++ {
		i := i
		group.Go(func() error {
			body, err := g.http.get(gctx, rawURL(files[i]))
			if err != nil {
				return nil
			}
			applyPreamble(&items[i], parsePreamble(string(body)))
			return nil
		})
	}
	_ = group.Wait()
}

func applyPreamble(item *domain.Proposal, p preamble) {
	if p.Title != "" {
		item.Title = cleanText(p.Title)
	}
	item.Status = domain.NormalizeStatus(p.Status)
	item.Author = cleanText(p.Author)
	item.Type = p.Type
	item.CreatedDate = p.Created
	if p.Body != "" {
		item.Summary = p.Body
	}
}

func splitRepoURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid repository url %q: %w", raw, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %q must look like https://github.com/<owner>/<repo>", raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
