package main

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/a-h/sitechat/client"
	"github.com/a-h/sitechat/models"
	"github.com/fsnotify/fsnotify"
	"github.com/tmc/langchaingo/documentloaders"
	"gopkg.in/yaml.v3"
)

type ImportCommand struct {
	ServerURL     string `help:"The URL of the chat server." env:"SITECHAT_URL" default:"http://localhost:9020"`
	ServerAPIKey  string `help:"The API key for the chat server." env:"SITECHAT_API_KEY" default:""`
	Dir           string `help:"The directory of Markdown and PDF content to import." env:"CONTENT_DIR" default:"src/content"`
	BaseURL       string `help:"The public URL of the site, used to derive page URLs." env:"SITE_URL" default:"http://localhost:4321"`
	IncludeDrafts bool   `help:"Import pages marked as drafts." env:"INCLUDE_DRAFTS" default:"false"`
	Watch         bool   `help:"Keep running and re-import files when they change." env:"WATCH" default:"false"`
	DryRun        bool   `help:"Do not actually import the documents." env:"DRY_RUN" default:"false"`
	LogLevel      string `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

func (c ImportCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)

	sc := client.New(c.ServerURL, c.ServerAPIKey)

	ce := NewContentExporter(c.Dir, c.BaseURL)
	ce.IncludeDrafts = c.IncludeDrafts
	for doc := range ce.Export(ctx) {
		if err = c.importDocument(ctx, log, sc, doc); err != nil {
			return err
		}
	}
	if ce.Error != nil || !c.Watch {
		return ce.Error
	}
	return c.watch(ctx, log, sc, ce)
}

func (c ImportCommand) importDocument(ctx context.Context, log *slog.Logger, sc client.Client, doc ExportedDocument) error {
	log.Info("importing document", slog.String("path", doc.Path), slog.String("url", doc.Document.URL))
	if c.DryRun {
		if log.Enabled(ctx, slog.LevelDebug) {
			fmt.Println(doc.Document.Text)
		}
		log.Info("skipping document import in dry run mode", slog.String("url", doc.Document.URL))
		return nil
	}
	resp, err := sc.DocumentsPost(ctx, models.DocumentsPostRequest{
		Document: doc.Document,
	})
	if err != nil {
		return fmt.Errorf("failed to post document %q: %w", doc.Path, err)
	}
	log.Info("document imported", slog.String("url", resp.URL), slog.Int("chunks", resp.Chunks))
	return nil
}

func (c ImportCommand) watch(ctx context.Context, log *slog.Logger, sc client.Client, ce *ContentExporter) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	err = filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %q: %w", c.Dir, err)
	}
	log.Info("watching for changes", slog.String("dir", c.Dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err = w.Add(event.Name); err != nil {
					log.Warn("failed to watch new directory", slog.String("dir", event.Name), slog.Any("error", err))
				}
				continue
			}
			if !isContentFile(event.Name) {
				continue
			}
			doc, ok, err := ce.Load(ctx, event.Name)
			if err != nil {
				log.Error("failed to load changed file", slog.String("path", event.Name), slog.Any("error", err))
				continue
			}
			if !ok {
				continue
			}
			if err = c.importDocument(ctx, log, sc, doc); err != nil {
				log.Error("failed to import changed file", slog.String("path", event.Name), slog.Any("error", err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", slog.Any("error", err))
		}
	}
}

func NewContentExporter(dir, baseURL string) *ContentExporter {
	return &ContentExporter{
		dir:     dir,
		baseURL: baseURL,
	}
}

// ContentExporter reads the site's Markdown pages and PDF files from disk.
type ContentExporter struct {
	dir           string
	baseURL       string
	IncludeDrafts bool
	Error         error
}

type ExportedDocument struct {
	Path     string
	Document models.Document
}

func (e *ContentExporter) Export(ctx context.Context) iter.Seq[ExportedDocument] {
	return func(yield func(ExportedDocument) bool) {
		err := filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !isContentFile(path) {
				return nil
			}
			doc, ok, err := e.Load(ctx, path)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if !yield(doc) {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			e.Error = err
		}
	}
}

// Load reads a single file. ok is false for drafts that should be skipped.
func (e *ContentExporter) Load(ctx context.Context, path string) (ed ExportedDocument, ok bool, err error) {
	rel, err := filepath.Rel(e.dir, path)
	if err != nil {
		return ed, false, fmt.Errorf("failed to get relative path of %q: %w", path, err)
	}
	ed.Path = filepath.ToSlash(rel)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		ed.Document, err = e.loadPDF(ctx, path, ed.Path)
		return ed, err == nil, err
	default:
		var draft bool
		ed.Document, draft, err = e.loadMarkdown(path, ed.Path)
		if err != nil {
			return ed, false, err
		}
		return ed, !draft || e.IncludeDrafts, nil
	}
}

type frontMatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Summary     string `yaml:"summary"`
	URL         string `yaml:"url"`
	Slug        string `yaml:"slug"`
	Draft       bool   `yaml:"draft"`
}

func (e *ContentExporter) loadMarkdown(path, rel string) (doc models.Document, draft bool, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return doc, false, fmt.Errorf("failed to read %q: %w", path, err)
	}
	fm, body, err := parseMarkdown(string(content))
	if err != nil {
		return doc, false, fmt.Errorf("failed to parse front matter of %q: %w", path, err)
	}
	doc.URL, err = e.pageURL(rel, fm)
	if err != nil {
		return doc, false, err
	}
	doc.Title = fm.Title
	if doc.Title == "" {
		doc.Title = markdownTitle(body, rel)
	}
	doc.Summary = fm.Summary
	if doc.Summary == "" {
		doc.Summary = fm.Description
	}
	doc.Text = strings.TrimSpace(body)
	return doc, fm.Draft, nil
}

func (e *ContentExporter) loadPDF(ctx context.Context, path, rel string) (doc models.Document, err error) {
	f, err := os.Open(path)
	if err != nil {
		return doc, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return doc, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	pdf := documentloaders.NewPDF(f, info.Size())
	pages, err := pdf.Load(ctx)
	if err != nil {
		return doc, fmt.Errorf("failed to load PDF %q: %w", path, err)
	}
	var sb strings.Builder
	for _, page := range pages {
		sb.WriteString(page.PageContent)
		sb.WriteString("\n")
	}

	doc.URL, err = createURL(e.baseURL, strings.Split(rel, "/")...)
	if err != nil {
		return doc, err
	}
	doc.Title = strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	doc.Text = strings.TrimSpace(sb.String())
	return doc, nil
}

// pageURL returns the URL the page is served from. Front matter wins over the
// file path, and index files map to their directory.
func (e *ContentExporter) pageURL(rel string, fm frontMatter) (string, error) {
	if fm.URL != "" {
		if u, err := url.Parse(fm.URL); err == nil && u.IsAbs() {
			return fm.URL, nil
		}
		return createURL(e.baseURL, splitPath(fm.URL)...)
	}
	segments := splitPath(strings.TrimSuffix(rel, filepath.Ext(rel)))
	if len(segments) > 0 && segments[len(segments)-1] == "index" {
		segments = segments[:len(segments)-1]
	}
	if fm.Slug != "" {
		if len(segments) > 0 {
			segments = segments[:len(segments)-1]
		}
		segments = append(segments, splitPath(fm.Slug)...)
	}
	return createURL(e.baseURL, segments...)
}

func parseMarkdown(content string) (fm frontMatter, body string, err error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return fm, content, nil
	}
	rest := "\n" + content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, content, nil
	}
	if err = yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return fm, "", err
	}
	body = rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return fm, body, nil
}

func markdownTitle(body, rel string) string {
	for _, line := range strings.Split(body, "\n") {
		if title, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(title)
		}
	}
	name := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	if name == "index" {
		if dir := filepath.Base(filepath.Dir(rel)); dir != "." {
			return dir
		}
	}
	return name
}

func isContentFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx", ".pdf":
		return true
	}
	return false
}

func splitPath(p string) (segments []string) {
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func createURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse baseURL: %w", err)
	}
	if len(pathSegments) == 0 {
		return u.String(), nil
	}
	return u.JoinPath(pathSegments...).String(), nil
}
