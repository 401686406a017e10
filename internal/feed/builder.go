package feed

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"go.uber.org/zap"

	"github.com/findsign/searchspider/internal/config"
	"github.com/findsign/searchspider/internal/updatelog"
)

// spliceRegion matches the replaceable block in the search UI page, markers
// included.
var spliceRegion = regexp.MustCompile(`(?s)<!-- START Discovery Feed -->.*<!-- END Discovery Feed -->`)

var fragmentTemplate = template.Must(template.New("fragment").Parse(
	`{{range .}}{{if .DayHeading}}<h2><time datetime="{{.DayMachine}}">{{.DayHuman}}</time></h2>
{{end}}<p><a href="{{.Link}}">{{.Provider}}</a> {{.Verb}} <a href="{{.EntryLink}}">{{.Words}}</a></p>
{{end}}`))

// Builder renders the discovery feeds.
type Builder struct {
	feedsPath    string
	searchUIPath string
	meta         config.FeedSettings
	sources      map[string]config.SourceConfig
	logger       *zap.Logger
}

// NewBuilder wires a feed builder. sources supplies per-provider display
// names and links; searchUIPath may be empty to skip the HTML splice.
func NewBuilder(feedsPath, searchUIPath string, meta config.FeedSettings, sources map[string]config.SourceConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		feedsPath:    feedsPath,
		searchUIPath: searchUIPath,
		meta:         meta,
		sources:      sources,
		logger:       logger,
	}
}

// Build renders the windowed entries into every feed format and splices the
// HTML fragment into the search UI page.
func (b *Builder) Build(ctx context.Context, window []updatelog.Entry, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(b.feedsPath, 0o755); err != nil {
		return fmt.Errorf("create feeds dir: %w", err)
	}

	f := b.syndicationFeed(window, now)
	renders := []struct {
		name   string
		render func() (string, error)
	}{
		{"discovery.rss", f.ToRss},
		{"discovery.atom", f.ToAtom},
		{"discovery.json", f.ToJSON},
	}
	for _, r := range renders {
		body, err := r.render()
		if err != nil {
			return fmt.Errorf("render %s: %w", r.name, err)
		}
		if err := writeAtomic(filepath.Join(b.feedsPath, r.name), []byte(body)); err != nil {
			return err
		}
	}
	b.logger.Info("discovery feeds written",
		zap.String("dir", b.feedsPath), zap.Int("entries", len(window)))

	if b.searchUIPath == "" {
		return nil
	}
	fragment, err := b.Fragment(window)
	if err != nil {
		return err
	}
	return b.Splice(fragment)
}

// syndicationFeed assembles the gorilla feed document. Entries arrive in
// chronological order; syndication wants newest first.
func (b *Builder) syndicationFeed(window []updatelog.Entry, now time.Time) *feeds.Feed {
	f := &feeds.Feed{
		Title:       b.meta.Title,
		Link:        &feeds.Link{Href: b.meta.Link},
		Description: b.meta.Description,
		Id:          b.meta.ID,
		Created:     now,
	}
	for i := len(window) - 1; i >= 0; i-- {
		e := window[i]
		f.Items = append(f.Items, &feeds.Item{
			Id:          fmt.Sprintf("%s:%s:%d", e.Provider, e.ID, e.Timestamp),
			Title:       b.headline(e),
			Link:        &feeds.Link{Href: e.Link},
			Description: e.Body,
			Author:      &feeds.Author{Name: b.displayName(e.Provider)},
			Created:     e.Time(),
		})
	}
	return f
}

type fragmentLine struct {
	DayHeading bool
	DayMachine string
	DayHuman   string
	Provider   string
	Link       string
	Verb       string
	EntryLink  string
	Words      string
}

// Fragment renders the HTML block for the search UI: a heading on every
// calendar-date transition, then one line per entry.
func (b *Builder) Fragment(window []updatelog.Entry) (string, error) {
	var lines []fragmentLine
	lastDay := ""
	for _, e := range window {
		ts := e.Time()
		day := ts.Format("2006-01-02")
		line := fragmentLine{
			Provider:  b.displayName(e.Provider),
			Link:      b.providerLink(e),
			Verb:      verbOrDefault(e.Verb),
			EntryLink: e.Link,
			Words:     firstWords(e.Words, 3),
		}
		if day != lastDay {
			line.DayHeading = true
			line.DayMachine = day
			line.DayHuman = ts.Format("Monday, 2 January 2006")
			lastDay = day
		}
		lines = append(lines, line)
	}

	var sb strings.Builder
	if err := fragmentTemplate.Execute(&sb, lines); err != nil {
		return "", fmt.Errorf("render discovery fragment: %w", err)
	}
	return sb.String(), nil
}

// Splice replaces the marked region of the search UI page with the fragment,
// markers preserved. The page is rewritten in place.
func (b *Builder) Splice(fragment string) error {
	raw, err := os.ReadFile(b.searchUIPath)
	if err != nil {
		return fmt.Errorf("read search UI page: %w", err)
	}
	if !spliceRegion.Match(raw) {
		return fmt.Errorf("search UI page %s has no discovery feed markers", b.searchUIPath)
	}
	replacement := "<!-- START Discovery Feed -->\n" + fragment + "<!-- END Discovery Feed -->"
	spliced := spliceRegion.ReplaceAllLiteral(raw, []byte(replacement))
	return writeAtomic(b.searchUIPath, spliced)
}

func (b *Builder) headline(e updatelog.Entry) string {
	return fmt.Sprintf("%s %s %s", b.displayName(e.Provider), verbOrDefault(e.Verb), firstWords(e.Words, 3))
}

func (b *Builder) displayName(provider string) string {
	if cfg, ok := b.sources[provider]; ok && cfg.DisplayName != "" {
		return cfg.DisplayName
	}
	return provider
}

func (b *Builder) providerLink(e updatelog.Entry) string {
	if e.ProviderLink != "" {
		return e.ProviderLink
	}
	if cfg, ok := b.sources[e.Provider]; ok {
		return cfg.Link
	}
	return ""
}

func verbOrDefault(verb string) string {
	if verb == "" {
		return updatelog.VerbDocumented
	}
	return verb
}

func firstWords(words []string, n int) string {
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, ", ")
}

func writeAtomic(path string, body []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
