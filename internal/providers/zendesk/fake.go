package zendesk

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"connsync/internal/connectors"
)

type fakeArticle struct {
	brandID    int64
	categoryID int64
	article    Article
}

// FakeClient is an in-memory Zendesk account.
type FakeClient struct {
	mu         sync.Mutex
	brands     []Brand
	categories map[int64][]Category
	sections   map[int64]Section
	articles   []fakeArticle
	forbidden  map[int64]bool
	pageSize   int
	articleGet int
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient creates an empty account serving pageSize articles per page.
func NewFakeClient(pageSize int) *FakeClient {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &FakeClient{
		categories: map[int64][]Category{},
		sections:   map[int64]Section{},
		forbidden:  map[int64]bool{},
		pageSize:   pageSize,
	}
}

func notFound() error {
	return &connectors.ProviderError{Provider: "zendesk", Kind: connectors.ProviderErrorNotFound, Status: http.StatusNotFound}
}

// PutBrand adds or replaces a brand with a help center.
func (f *FakeClient) PutBrand(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := Brand{ID: id, Name: name, Subdomain: "brand" + strconv.FormatInt(id, 10), HasHelpCenter: true}
	for i := range f.brands {
		if f.brands[i].ID == id {
			f.brands[i] = b
			return
		}
	}
	f.brands = append(f.brands, b)
}

// DeleteBrand removes a brand and everything below it.
func (f *FakeClient) DeleteBrand(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brands = slices.DeleteFunc(f.brands, func(b Brand) bool { return b.ID == id })
	delete(f.categories, id)
	f.articles = slices.DeleteFunc(f.articles, func(a fakeArticle) bool { return a.brandID == id })
}

// PutCategory adds or replaces a category of a brand.
func (f *FakeClient) PutCategory(brandID int64, c Category) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cats := f.categories[brandID]
	for i := range cats {
		if cats[i].ID == c.ID {
			cats[i] = c
			return
		}
	}
	f.categories[brandID] = append(cats, c)
}

// DeleteCategory removes a category and its articles.
func (f *FakeClient) DeleteCategory(brandID, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[brandID] = slices.DeleteFunc(f.categories[brandID], func(c Category) bool { return c.ID == id })
	f.articles = slices.DeleteFunc(f.articles, func(a fakeArticle) bool { return a.categoryID == id })
}

// PutArticle adds or replaces an article. Each category gets one section
// whose id is the category id plus 10000.
func (f *FakeClient) PutArticle(brandID, categoryID int64, a Article) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.SectionID == 0 {
		a.SectionID = categoryID + 10000
	}
	f.sections[a.SectionID] = Section{ID: a.SectionID, CategoryID: categoryID}
	for i := range f.articles {
		if f.articles[i].article.ID == a.ID {
			f.articles[i] = fakeArticle{brandID: brandID, categoryID: categoryID, article: a}
			return
		}
	}
	f.articles = append(f.articles, fakeArticle{brandID: brandID, categoryID: categoryID, article: a})
}

// DeleteArticle removes an article.
func (f *FakeClient) DeleteArticle(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles = slices.DeleteFunc(f.articles, func(a fakeArticle) bool { return a.article.ID == id })
}

// Forbid makes the articles of a category answer 403.
func (f *FakeClient) Forbid(categoryID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forbidden[categoryID] = true
}

// ArticleGets returns the number of GetArticle calls.
func (f *FakeClient) ArticleGets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.articleGet
}

func (f *FakeClient) ListBrands(ctx context.Context) ([]Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.brands), nil
}

func (f *FakeClient) GetBrand(ctx context.Context, id int64) (*Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.brands {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, notFound()
}

func (f *FakeClient) ListCategories(ctx context.Context, b Brand) ([]Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.categories[b.ID]), nil
}

func (f *FakeClient) ListArticles(ctx context.Context, b Brand, categoryID int64, cursor string) (ArticlePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forbidden[categoryID] {
		return ArticlePage{}, &connectors.ProviderError{Provider: "zendesk", Kind: connectors.ProviderErrorPermanent, Status: http.StatusForbidden}
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return ArticlePage{}, fmt.Errorf("bad cursor %q", cursor)
		}
		offset = n
	}
	var all []Article
	for _, a := range f.articles {
		if a.brandID == b.ID && a.categoryID == categoryID {
			all = append(all, a.article)
		}
	}
	offset = min(offset, len(all))
	end := min(offset+f.pageSize, len(all))
	page := ArticlePage{Articles: all[offset:end]}
	if end < len(all) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (f *FakeClient) IncrementalArticles(ctx context.Context, b Brand, start time.Time) (IncrementalPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := IncrementalPage{EndTime: start}
	for _, a := range f.articles {
		if a.brandID != b.ID || a.article.UpdatedAt.Before(start) {
			continue
		}
		page.Articles = append(page.Articles, a.article)
		if a.article.UpdatedAt.After(page.EndTime) {
			page.EndTime = a.article.UpdatedAt
		}
	}
	return page, nil
}

func (f *FakeClient) GetSection(ctx context.Context, b Brand, id int64) (*Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sections[id]
	if !ok {
		return nil, notFound()
	}
	return &s, nil
}

func (f *FakeClient) GetArticle(ctx context.Context, b Brand, id int64) (*Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articleGet++
	for _, a := range f.articles {
		if a.brandID == b.ID && a.article.ID == id {
			return &a.article, nil
		}
	}
	return nil, notFound()
}
