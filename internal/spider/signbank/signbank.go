// Package signbank crawls Signbank dictionary sites (Auslan Signbank and its
// siblings): the dictionary's alphabet index fans out to search result pages,
// those to sign definition pages, and each definition yields one entry with
// keywords, region tags, and its demonstration videos.
package signbank

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/spider"
	"github.com/findsign/searchspider/internal/task"
)

// TypeTag is the spider type this package registers under.
const TypeTag = "signbank"

const (
	taskSearch     = "search"
	taskDefinition = "definition"

	// definition bodies keep at most this many panel lines
	maxBodyLines = 5
)

func init() {
	spider.DefaultRegistry.Register(TypeTag, New)
}

var whitespace = regexp.MustCompile(`[\n\t ]+`)

// Spider crawls one configured Signbank site. Content is rebuilt from
// scratch every run; Reset is how the conductor learns that.
type Spider struct {
	name    string
	domain  string
	timeout time.Duration
	// regions maps a state-map image path to the region tags it implies
	regions   map[string][]string
	collector *colly.Collector
	logger    *zap.Logger
}

// New builds a Signbank spider from its source config. The config must carry
// a domain; the optional "regions" option maps map-image paths to tag lists.
func New(name string, cfg config.SourceConfig, logger *zap.Logger) (spider.Spider, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("source %s: signbank spider needs a domain", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	regions, err := regionOption(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}

	c := colly.NewCollector(colly.Async(false))
	c.SetRequestTimeout(cfg.Timeout())

	return &Spider{
		name:      name,
		domain:    strings.TrimRight(cfg.Domain, "/"),
		timeout:   cfg.Timeout(),
		regions:   regions,
		collector: c,
		logger:    logger.With(zap.String("spider", TypeTag)),
	}, nil
}

// Reset is a marker: every run starts from an empty content map.
func (s *Spider) Reset() {}

// Index routes one task to its page handler.
func (s *Spider) Index(ctx context.Context, t task.Task) (spider.Result, error) {
	switch {
	case t.Root():
		return s.indexAlphabet(ctx)
	case t.Type == taskSearch:
		url, err := urlArg(t)
		if err != nil {
			return spider.Result{}, err
		}
		return s.indexSearchResults(ctx, url)
	case t.Type == taskDefinition:
		url, err := urlArg(t)
		if err != nil {
			return spider.Result{}, err
		}
		return s.indexDefinition(ctx, url)
	default:
		return spider.Result{}, fmt.Errorf("%w: %s", spider.ErrUnknownTask, t)
	}
}

// indexAlphabet reads the dictionary root and emits one search task per
// alphabet block link.
func (s *Spider) indexAlphabet(ctx context.Context) (spider.Result, error) {
	pageURL := s.domain + "/dictionary/"
	doc, err := s.openPage(ctx, pageURL)
	if err != nil {
		return spider.Result{}, err
	}

	var result spider.Result
	doc.Find(".alphablock ul li a").Each(func(_ int, link *goquery.Selection) {
		if href, ok := link.Attr("href"); ok {
			result.Tasks = append(result.Tasks, task.New(taskSearch, relativeLink(pageURL, href)))
		}
	})
	s.logger.Debug("alphabet indexed", zap.String("url", pageURL), zap.Int("tasks", len(result.Tasks)))
	return result, nil
}

// indexSearchResults emits definition tasks for every result row and search
// tasks for the pagination links. The conductor's queue drops the duplicates
// pagination inevitably produces.
func (s *Spider) indexSearchResults(ctx context.Context, pageURL string) (spider.Result, error) {
	doc, err := s.openPage(ctx, pageURL)
	if err != nil {
		return spider.Result{}, err
	}

	var result spider.Result
	doc.Find("table.table a").Each(func(_ int, link *goquery.Selection) {
		if href, ok := link.Attr("href"); ok {
			result.Tasks = append(result.Tasks, task.New(taskDefinition, relativeLink(pageURL, href)))
		}
	})
	doc.Find("nav[aria-label='Page navigation'] ul.pagination li a").Each(func(_ int, link *goquery.Selection) {
		if href, ok := link.Attr("href"); ok {
			result.Tasks = append(result.Tasks, task.New(taskSearch, relativeLink(pageURL, href)))
		}
	})
	return result, nil
}

// indexDefinition builds the entry for one sign page. It also walks the
// previous/next/variant buttons so signs missing from search results, and
// signs filtered out of them, are still discovered.
func (s *Spider) indexDefinition(ctx context.Context, pageURL string) (spider.Result, error) {
	doc, err := s.openPage(ctx, pageURL)
	if err != nil {
		return spider.Result{}, err
	}

	entry := spider.Entry{
		Link:  pageURL,
		Words: parseKeywords(doc),
		Tags:  s.regionTags(doc, pageURL),
		Body:  parseBody(doc),
	}
	doc.Find("video source").Each(func(_ int, src *goquery.Selection) {
		href, ok := src.Attr("src")
		if !ok || strings.Contains(href, "Definition") {
			return
		}
		entry.Media = append(entry.Media, spider.MediaSpec{URL: relativeLink(pageURL, href)})
	})

	var result spider.Result
	if len(entry.Words) > 0 {
		result.Entries = append(result.Entries, entry)
	} else {
		s.logger.Warn("definition page without keywords skipped", zap.String("url", pageURL))
	}
	doc.Find("a.btn").Each(func(_ int, link *goquery.Selection) {
		if href, ok := link.Attr("href"); ok {
			target, _, _ := strings.Cut(relativeLink(pageURL, href), "?")
			result.Tasks = append(result.Tasks, task.New(taskDefinition, target))
		}
	})
	return result, nil
}

// regionTags converts the state-map images on a definition page into region
// tags via the configured path map.
func (s *Spider) regionTags(doc *goquery.Document, pageURL string) []string {
	var tags []string
	doc.Find("#states img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok {
			return
		}
		resolved := relativeLink(pageURL, src)
		for path, regionTags := range s.regions {
			if relativeLink(pageURL, path) == resolved {
				tags = append(tags, regionTags...)
			}
		}
	})
	return tags
}

// openPage fetches one HTML page through the collector and hands it to
// goquery.
func (s *Spider) openPage(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := s.collector.Clone()
	collector.SetRequestTimeout(s.timeout)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", pageURL, err)
		}
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// parseKeywords extracts the sign's keyword list from the "#keywords" block,
// shaped like "Keywords: hello, hi, greeting".
func parseKeywords(doc *goquery.Document) []string {
	text := whitespace.ReplaceAllString(doc.Find("#keywords").First().Text(), " ")
	_, list, found := strings.Cut(strings.TrimSpace(text), ": ")
	if !found {
		return nil
	}
	var words []string
	for _, w := range strings.Split(list, ", ") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// parseBody flattens the definition panels to "Title: entry; entry" lines,
// capped so enormous linguistic notes do not bloat the dataset.
func parseBody(doc *goquery.Document) string {
	var lines []string
	doc.Find("div.definition-panel").Each(func(_ int, panel *goquery.Selection) {
		title := strings.TrimSpace(panel.Find("h3.panel-title").Text())
		var entries []string
		panel.Find("div.definition-entry > div").Each(func(_ int, div *goquery.Selection) {
			if text := strings.TrimSpace(div.Text()); text != "" {
				entries = append(entries, text)
			}
		})
		lines = append(lines, fmt.Sprintf("%s: %s", title, strings.Join(entries, "; ")))
	})
	if len(lines) > maxBodyLines {
		lines = lines[:maxBodyLines]
	}
	return strings.Join(lines, "\n")
}

// relativeLink resolves href against base, falling back to href as-is when
// either side fails to parse.
func relativeLink(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

// urlArg extracts the single URL argument a search or definition task carries.
func urlArg(t task.Task) (string, error) {
	if len(t.Args) != 1 {
		return "", fmt.Errorf("task %s: want exactly one url argument", t)
	}
	u, ok := t.Args[0].(string)
	if !ok {
		return "", fmt.Errorf("task %s: url argument is not a string", t)
	}
	return u, nil
}
