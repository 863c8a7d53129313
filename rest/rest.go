// Package rest is a thin typed façade over the community REST API. The sync
// engine itself never blocks on it; the UI uses it to resolve the business or
// event a conversation is attached to.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nbrly/chatsync/auth"
)

const defaultTimeout = 15 * time.Second

// Business is a neighborhood business record.
type Business struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Address  string  `json:"address,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
}

// Listing is a marketplace listing record.
type Listing struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Price    float64 `json:"price,omitempty"`
	SellerID string  `json:"sellerId"`
	Sold     bool    `json:"sold,omitempty"`
}

// Event is a community event record.
type Event struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	StartsAt int64  `json:"startsAt,omitempty"` // unix millis
	Location string `json:"location,omitempty"`
}

// Review is a business review record.
type Review struct {
	ID         string `json:"id"`
	BusinessID string `json:"businessId"`
	AuthorID   string `json:"authorId"`
	Rating     int    `json:"rating"`
	Text       string `json:"text,omitempty"`
}

// Client calls the REST backend with the same bearer credential the socket
// uses.
type Client struct {
	http   *resty.Client
	tokens auth.TokenSource
}

func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout),
		tokens: tokens,
	}
}

func (c *Client) GetBusiness(ctx context.Context, id string) (*Business, error) {
	out := &Business{}
	if err := c.get(ctx, "/api/businesses/{id}", id, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetListing(ctx context.Context, id string) (*Listing, error) {
	out := &Listing{}
	if err := c.get(ctx, "/api/listings/{id}", id, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetEvent(ctx context.Context, id string) (*Event, error) {
	out := &Event{}
	if err := c.get(ctx, "/api/events/{id}", id, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetReviews(ctx context.Context, businessID string) ([]Review, error) {
	var out []Review
	if err := c.get(ctx, "/api/businesses/{id}/reviews", businessID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path, id string, out interface{}) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("id", id).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("rest: GET %s: %v", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("rest: GET %s: status %d", path, resp.StatusCode())
	}
	return nil
}
