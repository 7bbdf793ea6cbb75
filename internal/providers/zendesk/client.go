// Package zendesk syncs Zendesk help center articles, brand by brand.
package zendesk

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"connsync/internal/model"
	"connsync/internal/providers/httpclient"
)

const defaultPageSize = 100

// Brand is a Zendesk brand. Each brand has its own help center subdomain.
type Brand struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Subdomain     string `json:"subdomain"`
	BrandURL      string `json:"brand_url"`
	HasHelpCenter bool   `json:"has_help_center"`
}

// HelpCenterURL returns the public help center address of b.
func (b Brand) HelpCenterURL() string {
	if b.BrandURL != "" {
		return strings.TrimRight(b.BrandURL, "/") + "/hc"
	}
	return "https://" + b.Subdomain + ".zendesk.com/hc"
}

type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
}

type Section struct {
	ID         int64 `json:"id"`
	CategoryID int64 `json:"category_id"`
}

type Article struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	SectionID int64     `json:"section_id"`
	Draft     bool      `json:"draft"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArticlePage is one cursor page of the articles of a category.
type ArticlePage struct {
	Articles []Article
	// Next is empty on the last page.
	Next string
}

// IncrementalPage is one page of the incremental article export.
type IncrementalPage struct {
	Articles []Article
	EndTime  time.Time
	HasMore  bool
}

// Client is the subset of the Zendesk API used by the sync. Help center
// calls are addressed to the subdomain of the brand.
type Client interface {
	ListBrands(ctx context.Context) ([]Brand, error)
	// GetBrand returns a not_found ProviderError when the brand is gone.
	GetBrand(ctx context.Context, id int64) (*Brand, error)
	ListCategories(ctx context.Context, b Brand) ([]Category, error)
	ListArticles(ctx context.Context, b Brand, categoryID int64, cursor string) (ArticlePage, error)
	IncrementalArticles(ctx context.Context, b Brand, start time.Time) (IncrementalPage, error)
	GetSection(ctx context.Context, b Brand, id int64) (*Section, error)
	GetArticle(ctx context.Context, b Brand, id int64) (*Article, error)
}

// Dialer opens a Client for a connector.
type Dialer func(ctx context.Context, c *model.Connector) (Client, error)

// EnvDialer reads the OAuth token from the environment variable named by
// the connection id. The account subdomain comes from the "subdomain" setting.
func EnvDialer(ctx context.Context, c *model.Connector) (Client, error) {
	sub := c.Setting("subdomain", "")
	if sub == "" {
		return nil, fmt.Errorf("connector %d: zendesk subdomain not configured", c.ID)
	}
	return NewHTTPClient(sub, c.Setting("base_url", ""), httpclient.EnvTokenProvider(c.ConnectionID)), nil
}

// HTTPClient calls the Zendesk REST API. baseURL overrides the per-subdomain
// address when set, which is how tests point it at a local server.
type HTTPClient struct {
	subdomain string
	baseURL   string
	token     httpclient.TokenProvider

	mu      sync.Mutex
	clients map[string]*httpclient.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(subdomain, baseURL string, token httpclient.TokenProvider) *HTTPClient {
	return &HTTPClient{subdomain: subdomain, baseURL: baseURL, token: token, clients: map[string]*httpclient.Client{}}
}

func (c *HTTPClient) api(subdomain string) *httpclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[subdomain]; ok {
		return cl
	}
	base := c.baseURL
	if base == "" {
		base = "https://" + subdomain + ".zendesk.com/api/v2"
	}
	cl := httpclient.New(httpclient.Options{
		Provider:  string(model.ProviderZendesk),
		BaseURL:   base,
		Token:     c.token,
		UserAgent: "connsync",
		RateLimit: 5,
		Burst:     5,
	})
	c.clients[subdomain] = cl
	return cl
}

func (c *HTTPClient) ListBrands(ctx context.Context) ([]Brand, error) {
	var brands []Brand
	next := "/brands"
	for next != "" {
		var resp struct {
			Brands   []Brand `json:"brands"`
			NextPage string  `json:"next_page"`
		}
		if err := c.api(c.subdomain).Get(ctx, next, nil, &resp); err != nil {
			return nil, err
		}
		brands = append(brands, resp.Brands...)
		next = resp.NextPage
	}
	return brands, nil
}

func (c *HTTPClient) GetBrand(ctx context.Context, id int64) (*Brand, error) {
	var resp struct {
		Brand Brand `json:"brand"`
	}
	if err := c.api(c.subdomain).Get(ctx, "/brands/"+strconv.FormatInt(id, 10), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Brand, nil
}

func (c *HTTPClient) ListCategories(ctx context.Context, b Brand) ([]Category, error) {
	var categories []Category
	q := url.Values{"page[size]": {strconv.Itoa(defaultPageSize)}}
	for {
		var resp struct {
			Categories []Category `json:"categories"`
			Meta       struct {
				HasMore     bool   `json:"has_more"`
				AfterCursor string `json:"after_cursor"`
			} `json:"meta"`
		}
		if err := c.api(b.Subdomain).Get(ctx, "/help_center/categories", q, &resp); err != nil {
			return nil, err
		}
		categories = append(categories, resp.Categories...)
		if !resp.Meta.HasMore {
			return categories, nil
		}
		q.Set("page[after]", resp.Meta.AfterCursor)
	}
}

func (c *HTTPClient) ListArticles(ctx context.Context, b Brand, categoryID int64, cursor string) (ArticlePage, error) {
	q := url.Values{"page[size]": {strconv.Itoa(defaultPageSize)}}
	if cursor != "" {
		q.Set("page[after]", cursor)
	}
	var resp struct {
		Articles []Article `json:"articles"`
		Meta     struct {
			HasMore     bool   `json:"has_more"`
			AfterCursor string `json:"after_cursor"`
		} `json:"meta"`
	}
	path := "/help_center/categories/" + strconv.FormatInt(categoryID, 10) + "/articles"
	if err := c.api(b.Subdomain).Get(ctx, path, q, &resp); err != nil {
		return ArticlePage{}, err
	}
	page := ArticlePage{Articles: resp.Articles}
	if resp.Meta.HasMore {
		page.Next = resp.Meta.AfterCursor
	}
	return page, nil
}

func (c *HTTPClient) IncrementalArticles(ctx context.Context, b Brand, start time.Time) (IncrementalPage, error) {
	q := url.Values{"start_time": {strconv.FormatInt(start.Unix(), 10)}}
	var resp struct {
		Articles []Article `json:"articles"`
		NextPage string    `json:"next_page"`
		EndTime  int64     `json:"end_time"`
	}
	if err := c.api(b.Subdomain).Get(ctx, "/help_center/incremental/articles", q, &resp); err != nil {
		return IncrementalPage{}, err
	}
	return IncrementalPage{
		Articles: resp.Articles,
		EndTime:  time.Unix(resp.EndTime, 0).UTC(),
		HasMore:  resp.NextPage != "" && resp.EndTime > start.Unix(),
	}, nil
}

func (c *HTTPClient) GetSection(ctx context.Context, b Brand, id int64) (*Section, error) {
	var resp struct {
		Section Section `json:"section"`
	}
	if err := c.api(b.Subdomain).Get(ctx, "/help_center/sections/"+strconv.FormatInt(id, 10), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Section, nil
}

func (c *HTTPClient) GetArticle(ctx context.Context, b Brand, id int64) (*Article, error) {
	var resp struct {
		Article Article `json:"article"`
	}
	if err := c.api(b.Subdomain).Get(ctx, "/help_center/articles/"+strconv.FormatInt(id, 10), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Article, nil
}
