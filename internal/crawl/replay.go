package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var rePageFile = regexp.MustCompile(`^page-(\d+)\.html?$`)

// PageFileName is the name a page is saved under.
func PageFileName(page int) string {
	return fmt.Sprintf("page-%d.html", page)
}

// ListPages returns the page numbers saved in dir, ascending. Files not named
// page-N.html are skipped.
func ListPages(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var pages []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := rePageFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pages = append(pages, n)
	}
	sort.Ints(pages)
	return pages, nil
}

// DirFetcher replays pages saved as page-N.html. Login is a no-op. A missing
// page file reads as an empty page, which lets the empty-page rule end the
// crawl the same way an exhausted site does.
type DirFetcher struct {
	Dir string
}

func (d DirFetcher) Login(context.Context) error {
	info, err := os.Stat(d.Dir)
	if err != nil {
		return fmt.Errorf("replay dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("replay dir %s: not a directory", d.Dir)
	}
	return nil
}

func (d DirFetcher) FetchPage(ctx context.Context, page int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	path := filepath.Join(d.Dir, PageFileName(page))
	p := Page{Number: page, URL: "file://" + filepath.ToSlash(path)}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return Page{}, err
	}
	p.HTML = string(b)
	return p, nil
}

// SavingFetcher writes every fetched page into Dir, producing a directory
// DirFetcher can replay later.
type SavingFetcher struct {
	Fetcher
	Dir string
}

func (s SavingFetcher) FetchPage(ctx context.Context, page int) (Page, error) {
	p, err := s.Fetcher.FetchPage(ctx, page)
	if err != nil {
		return p, err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return p, fmt.Errorf("save page: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, PageFileName(page)), []byte(p.HTML), 0o644); err != nil {
		return p, fmt.Errorf("save page: %w", err)
	}
	return p, nil
}
