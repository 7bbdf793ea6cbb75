// Package intercom syncs Intercom help centers and team conversations.
package intercom

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"connsync/internal/model"
	"connsync/internal/providers/httpclient"
)

const (
	DefaultBaseURL = "https://api.intercom.io"
	apiVersion     = "2.10"
	perPage        = 50
)

// ID is an Intercom identifier. The API returns some ids as JSON numbers
// and others as strings.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Timestamp is a unix time in seconds.
type Timestamp int64

func (t Timestamp) Time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.Unix(int64(t), 0).UTC()
}

type HelpCenter struct {
	ID              ID     `json:"id"`
	WorkspaceID     string `json:"workspace_id"`
	DisplayName     string `json:"display_name"`
	Identifier      string `json:"identifier"`
	WebsiteTurnedOn bool   `json:"website_turned_on"`
}

type Collection struct {
	ID           ID     `json:"id"`
	WorkspaceID  string `json:"workspace_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	URL          string `json:"url"`
	ParentID     ID     `json:"parent_id"`
	HelpCenterID ID     `json:"help_center_id"`
}

type Article struct {
	ID          ID        `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	ParentID    ID        `json:"parent_id"`
	ParentType  string    `json:"parent_type"`
	State       string    `json:"state"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

// Published reports whether the article is live.
func (a Article) Published() bool { return a.State == "published" }

// InAppURL is the address of the article in the Intercom app, used when the
// public help center website is turned off.
func (a Article) InAppURL() string {
	return "https://app.intercom.com/a/apps/" + a.WorkspaceID + "/articles/articles/" + string(a.ID) + "/show"
}

type Team struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ConversationPart struct {
	PartType  string    `json:"part_type"`
	Body      string    `json:"body"`
	Author    Author    `json:"author"`
	CreatedAt Timestamp `json:"created_at"`
}

type Conversation struct {
	ID             ID        `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      Timestamp `json:"created_at"`
	UpdatedAt      Timestamp `json:"updated_at"`
	TeamAssigneeID ID        `json:"team_assignee_id"`
	Source         struct {
		Body   string `json:"body"`
		Author Author `json:"author"`
	} `json:"source"`
	ConversationParts struct {
		Parts []ConversationPart `json:"conversation_parts"`
	} `json:"conversation_parts"`
}

// ArticlePage is one page of the articles of a collection.
type ArticlePage struct {
	Articles []Article
	// NextPage is 0 on the last page.
	NextPage int
}

// ConversationPage is one page of a conversation search.
type ConversationPage struct {
	Conversations []Conversation
	// Next is empty on the last page.
	Next string
}

// Client is the subset of the Intercom API used by the sync. Lookups of
// deleted entities return a not_found ProviderError.
type Client interface {
	ListHelpCenters(ctx context.Context) ([]HelpCenter, error)
	GetHelpCenter(ctx context.Context, id string) (*HelpCenter, error)
	ListCollections(ctx context.Context, helpCenterID string) ([]Collection, error)
	ListArticles(ctx context.Context, collectionID string, page int) (ArticlePage, error)
	GetTeam(ctx context.Context, id string) (*Team, error)
	SearchConversations(ctx context.Context, teamID string, updatedSince time.Time, cursor string) (ConversationPage, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
}

// Dialer opens a Client for a connector.
type Dialer func(ctx context.Context, c *model.Connector) (Client, error)

// EnvDialer reads the access token from the environment variable named by
// the connection id.
func EnvDialer(ctx context.Context, c *model.Connector) (Client, error) {
	return NewHTTPClient(c.Setting("base_url", DefaultBaseURL), httpclient.EnvTokenProvider(c.ConnectionID)), nil
}

// HTTPClient calls the Intercom REST API.
type HTTPClient struct {
	http *httpclient.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, token httpclient.TokenProvider) *HTTPClient {
	return &HTTPClient{http: httpclient.New(httpclient.Options{
		Provider:  string(model.ProviderIntercom),
		BaseURL:   baseURL,
		Token:     token,
		UserAgent: "connsync",
		Headers:   map[string]string{"Intercom-Version": apiVersion},
		RateLimit: 15,
		Burst:     15,
	})}
}

type pages struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	Next       struct {
		StartingAfter string `json:"starting_after"`
	} `json:"next"`
}

func (c *HTTPClient) ListHelpCenters(ctx context.Context) ([]HelpCenter, error) {
	var resp struct {
		Data []HelpCenter `json:"data"`
	}
	if err := c.http.Get(ctx, "/help_center/help_centers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *HTTPClient) GetHelpCenter(ctx context.Context, id string) (*HelpCenter, error) {
	var hc HelpCenter
	if err := c.http.Get(ctx, "/help_center/help_centers/"+url.PathEscape(id), nil, &hc); err != nil {
		return nil, err
	}
	return &hc, nil
}

func (c *HTTPClient) ListCollections(ctx context.Context, helpCenterID string) ([]Collection, error) {
	var out []Collection
	for page := 1; ; page++ {
		var resp struct {
			Data  []Collection `json:"data"`
			Pages pages        `json:"pages"`
		}
		q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}}
		if err := c.http.Get(ctx, "/help_center/collections", q, &resp); err != nil {
			return nil, err
		}
		for _, col := range resp.Data {
			if string(col.HelpCenterID) == helpCenterID {
				out = append(out, col)
			}
		}
		if page >= resp.Pages.TotalPages {
			return out, nil
		}
	}
}

func (c *HTTPClient) ListArticles(ctx context.Context, collectionID string, page int) (ArticlePage, error) {
	if page <= 0 {
		page = 1
	}
	var resp struct {
		Data struct {
			Articles []Article `json:"articles"`
		} `json:"data"`
		Pages pages `json:"pages"`
	}
	q := url.Values{
		"parent_id": {collectionID},
		"state":     {"published"},
		"page":      {strconv.Itoa(page)},
		"per_page":  {strconv.Itoa(perPage)},
	}
	if err := c.http.Get(ctx, "/articles/search", q, &resp); err != nil {
		return ArticlePage{}, err
	}
	out := ArticlePage{Articles: resp.Data.Articles}
	if page < resp.Pages.TotalPages {
		out.NextPage = page + 1
	}
	return out, nil
}

func (c *HTTPClient) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	if err := c.http.Get(ctx, "/teams/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) SearchConversations(ctx context.Context, teamID string, updatedSince time.Time, cursor string) (ConversationPage, error) {
	pagination := map[string]any{"per_page": perPage}
	if cursor != "" {
		pagination["starting_after"] = cursor
	}
	body := map[string]any{
		"query": map[string]any{
			"operator": "AND",
			"value": []map[string]any{
				{"field": "team_assignee_id", "operator": "=", "value": teamID},
				{"field": "updated_at", "operator": ">", "value": updatedSince.Unix()},
			},
		},
		"pagination": pagination,
	}
	var resp struct {
		Conversations []Conversation `json:"conversations"`
		Pages         pages          `json:"pages"`
	}
	if err := c.http.Do(ctx, http.MethodPost, "/conversations/search", nil, body, &resp); err != nil {
		return ConversationPage{}, err
	}
	return ConversationPage{Conversations: resp.Conversations, Next: resp.Pages.Next.StartingAfter}, nil
}

func (c *HTTPClient) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.http.Get(ctx, "/conversations/"+url.PathEscape(id), url.Values{"display_as": {"plaintext"}}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}
