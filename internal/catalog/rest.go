package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
)

// HTTPError captures an unexpected status from the REST backend.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// RESTSource reads catalog tables from a PostgREST-compatible endpoint.
type RESTSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Source = (*RESTSource)(nil)

// NewRESTSource targets baseURL/rest/v1. A nil client gets a 10s timeout.
func NewRESTSource(baseURL, apiKey string, client *http.Client) *RESTSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTSource{
		baseURL: strings.TrimRight(baseURL, "/") + "/rest/v1",
		apiKey:  apiKey,
		client:  client,
	}
}

var sortOrders = map[string]string{
	SortNewest:    "created_at.desc",
	SortPriceAsc:  "price.asc",
	SortPriceDesc: "price.desc",
	SortName:      "name.asc",
}

func (s *RESTSource) Products(ctx context.Context, filter ProductFilter) ([]Product, error) {
	filter = filter.Normalize()
	q := url.Values{}
	q.Set("select", "*")
	if filter.CategoryID != "" {
		q.Set("category_id", "eq."+filter.CategoryID)
	}
	if filter.Search != "" {
		q.Set("name", "ilike.*"+filter.Search+"*")
	}
	if filter.Featured {
		q.Set("featured", "eq.true")
	}
	q.Set("order", sortOrders[filter.Sort])
	q.Set("limit", strconv.Itoa(filter.PageSize))
	q.Set("offset", strconv.Itoa(filter.Offset()))

	var products []Product
	if err := s.get(ctx, "products", q, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *RESTSource) Product(ctx context.Context, id string) (Product, bool, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+id)
	q.Set("limit", "1")

	var products []Product
	if err := s.get(ctx, "products", q, &products); err != nil {
		return Product{}, false, err
	}
	if len(products) == 0 {
		return Product{}, false, nil
	}
	return products[0], true, nil
}

func (s *RESTSource) Categories(ctx context.Context) ([]Category, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "name.asc")

	var cats []Category
	if err := s.get(ctx, "categories", q, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

func (s *RESTSource) Banners(ctx context.Context) ([]Banner, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("active", "eq.true")
	q.Set("order", "position.asc")

	var banners []Banner
	if err := s.get(ctx, "banners", q, &banners); err != nil {
		return nil, err
	}
	return banners, nil
}

func (s *RESTSource) get(ctx context.Context, table string, q url.Values, out any) error {
	reqURL := s.baseURL + "/" + table + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request %s failed", table)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Wrapf(&HTTPError{StatusCode: resp.StatusCode, Body: body}, "query %s", table)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s JSON", table)
	}
	return nil
}
