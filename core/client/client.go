/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.

Example:

	var books map[string]interface{}
	status, err := client.NewWithRouter(router).
		Resource("book").
		WithFilter("title", "ilike", "fir").
		Include("author").
		List(&books)
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/awokado/core"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	identity   *core.Identity
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithIdentity() adds an identity to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends the token as bearer authorization
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithIdentity returns a new client with a specific identity
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithIdentity(identity *core.Identity) Client {
	c.identity = identity
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.identity != nil {
		ctx = c.identity.ContextWithIdentity(ctx)
	}
	return ctx
}

// Resource represents the routes of a particular resource
type Resource struct {
	client     *Client
	name       string
	parameters url.Values
}

// Resource returns a new resource client
func (c Client) Resource(name string) Resource {
	return Resource{
		client:     &c,
		name:       name,
		parameters: url.Values{},
	}
}

// WithParameter returns a new resource client with a URL parameter added.
func (r Resource) WithParameter(key string, value string) Resource {
	parameters := url.Values{}
	for k, v := range r.parameters {
		parameters[k] = append([]string(nil), v...)
	}
	parameters.Add(key, value)
	r.parameters = parameters
	return r
}

// WithFilter returns a new resource client with a filter parameter added.
// This is a shortcut for WithParameter(field+"["+operator+"]", value)
func (r Resource) WithFilter(field, operator, value string) Resource {
	return r.WithParameter(field+"["+operator+"]", value)
}

// Include returns a new resource client which includes the given relations
func (r Resource) Include(relations ...string) Resource {
	return r.WithParameter("include", strings.Join(relations, ","))
}

// Sort returns a new resource client with sort terms added
func (r Resource) Sort(terms ...string) Resource {
	return r.WithParameter("sort", strings.Join(terms, ","))
}

// Page returns a new resource client with limit and offset
func (r Resource) Page(limit, offset int) Resource {
	return r.WithParameter("limit", strconv.Itoa(limit)).WithParameter("offset", strconv.Itoa(offset))
}

func (r Resource) query() string {
	if len(r.parameters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(r.parameters))
	for k := range r.parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		for _, v := range r.parameters[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return "?" + strings.Join(parts, "&")
}

// Path returns the created path for the resource plus optional query strings
func (r Resource) Path() string {
	return "/" + r.name + r.query()
}

// List reads the resource list
//
// The operation corresponds to a GET request.
//
// result can be map[string]interface{} or a raw *[]byte.
func (r Resource) List(result interface{}) (int, error) {
	return r.client.RawGet(r.Path(), result)
}

// Create creates one object, or a list of objects with bulk creation. The body is
// wrapped into the resource name.
//
// The operation corresponds to a POST request.
func (r Resource) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.Path(), map[string]interface{}{r.name: body}, result)
}

// Update updates a list of objects. Every object must contain its id.
//
// The operation corresponds to a PATCH request.
func (r Resource) Update(objects []interface{}, result interface{}) (int, error) {
	return r.client.RawPatch(r.Path(), map[string]interface{}{r.name: objects}, result)
}

// Delete deletes the objects with the given ids
//
// The operation corresponds to a DELETE request.
func (r Resource) Delete(ids ...interface{}) (int, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = fmt.Sprint(id)
	}
	return r.client.RawDelete(r.WithParameter("ids", strings.Join(strs, ",")).Path())
}

// Item represents a single object of a resource
type Item struct {
	resource Resource
	id       string
}

// Item returns a client for the object with the given id
func (r Resource) Item(id interface{}) Item {
	return Item{resource: r, id: fmt.Sprint(id)}
}

// Path returns the created path for this item
func (i Item) Path() string {
	return "/" + i.resource.name + "/" + url.PathEscape(i.id) + i.resource.query()
}

// Read reads the object
//
// The operation corresponds to a GET request.
//
// result can also be map[string]interface{} or a raw *[]byte.
func (i Item) Read(result interface{}) (int, error) {
	return i.resource.client.RawGet(i.Path(), result)
}

// Patch updates selected fields of the object. The body must contain the id.
//
// The operation corresponds to a PATCH request.
func (i Item) Patch(body interface{}, result interface{}) (int, error) {
	return i.resource.client.RawPatch(i.Path(), map[string]interface{}{i.resource.name: []interface{}{body}}, result)
}

// Delete deletes the object
//
// The operation corresponds to a DELETE request.
func (i Item) Delete() (int, error) {
	return i.resource.client.RawDelete(i.Path())
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.do(http.MethodGet, path, nil, result)
}

// RawPost posts the body to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPost, path, body, result)
}

// RawPatch patches the resource at path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPatch, path, body, result)
}

// RawDelete deletes the resource at path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	return c.do(http.MethodDelete, path, nil, nil)
}

func (c Client) do(method, path string, body interface{}, result interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, ok := body.([]byte)
		if !ok {
			var err error
			data, err = json.Marshal(body)
			if err != nil {
				return http.StatusInternalServerError, err
			}
		}
		reader = bytes.NewReader(data)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		if c.token != "" {
			r.Header.Add("Authorization", "Bearer "+c.token)
		}
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}

	status := res.StatusCode
	if status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}

	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, err
}
