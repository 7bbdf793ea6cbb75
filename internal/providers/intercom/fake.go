package intercom

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"connsync/internal/connectors"
)

// FakeClient is an in-memory Intercom workspace.
type FakeClient struct {
	mu            sync.Mutex
	helpCenters   []HelpCenter
	collections   []Collection
	articles      []Article
	teams         []Team
	conversations []Conversation
	pageSize      int
	convGets      int
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient creates an empty workspace serving pageSize entries per page.
func NewFakeClient(pageSize int) *FakeClient {
	if pageSize <= 0 {
		pageSize = perPage
	}
	return &FakeClient{pageSize: pageSize}
}

func notFound() error {
	return &connectors.ProviderError{Provider: "intercom", Kind: connectors.ProviderErrorNotFound, Status: http.StatusNotFound}
}

func upsert[T any](list []T, v T, same func(T) bool) []T {
	if i := slices.IndexFunc(list, same); i >= 0 {
		list[i] = v
		return list
	}
	return append(list, v)
}

func (f *FakeClient) PutHelpCenter(hc HelpCenter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.helpCenters = upsert(f.helpCenters, hc, func(o HelpCenter) bool { return o.ID == hc.ID })
}

func (f *FakeClient) PutCollection(c Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = upsert(f.collections, c, func(o Collection) bool { return o.ID == c.ID })
}

func (f *FakeClient) DeleteCollection(id ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = slices.DeleteFunc(f.collections, func(o Collection) bool { return o.ID == id })
}

func (f *FakeClient) PutArticle(a Article) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles = upsert(f.articles, a, func(o Article) bool { return o.ID == a.ID })
}

func (f *FakeClient) DeleteArticle(id ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles = slices.DeleteFunc(f.articles, func(o Article) bool { return o.ID == id })
}

func (f *FakeClient) PutTeam(t Team) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams = upsert(f.teams, t, func(o Team) bool { return o.ID == t.ID })
}

func (f *FakeClient) PutConversation(c Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = upsert(f.conversations, c, func(o Conversation) bool { return o.ID == c.ID })
}

// ConversationGets returns the number of GetConversation calls.
func (f *FakeClient) ConversationGets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convGets
}

func (f *FakeClient) ListHelpCenters(ctx context.Context) ([]HelpCenter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.helpCenters), nil
}

func (f *FakeClient) GetHelpCenter(ctx context.Context, id string) (*HelpCenter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, hc := range f.helpCenters {
		if string(hc.ID) == id {
			return &hc, nil
		}
	}
	return nil, notFound()
}

func (f *FakeClient) ListCollections(ctx context.Context, helpCenterID string) ([]Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Collection
	for _, c := range f.collections {
		if string(c.HelpCenterID) == helpCenterID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeClient) ListArticles(ctx context.Context, collectionID string, page int) (ArticlePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if page <= 0 {
		page = 1
	}
	var all []Article
	for _, a := range f.articles {
		if string(a.ParentID) == collectionID && a.Published() {
			all = append(all, a)
		}
	}
	start := min((page-1)*f.pageSize, len(all))
	end := min(start+f.pageSize, len(all))
	out := ArticlePage{Articles: all[start:end]}
	if end < len(all) {
		out.NextPage = page + 1
	}
	return out, nil
}

func (f *FakeClient) GetTeam(ctx context.Context, id string) (*Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.teams {
		if string(t.ID) == id {
			return &t, nil
		}
	}
	return nil, notFound()
}

func (f *FakeClient) SearchConversations(ctx context.Context, teamID string, updatedSince time.Time, cursor string) (ConversationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []Conversation
	for _, c := range f.conversations {
		if string(c.TeamAssigneeID) == teamID && c.UpdatedAt.Time().After(updatedSince) {
			all = append(all, c)
		}
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return ConversationPage{}, err
		}
		start = min(n, len(all))
	}
	end := min(start+f.pageSize, len(all))
	out := ConversationPage{Conversations: all[start:end]}
	if end < len(all) {
		out.Next = strconv.Itoa(end)
	}
	return out, nil
}

func (f *FakeClient) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convGets++
	for _, c := range f.conversations {
		if string(c.ID) == id {
			return &c, nil
		}
	}
	return nil, notFound()
}
