package client

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/forkops/forkd"
	transport "github.com/forkops/forkd/http"
	"github.com/forkops/forkd/store"
)

// Client speaks to a forkd daemon over its HTTP API.
type Client struct {
	client   *http.Client
	router   *mux.Router
	endpoint string
}

func New(c *http.Client, router *mux.Router, endpoint string) *Client {
	return &Client{
		client:   c,
		router:   router,
		endpoint: endpoint,
	}
}

// TriggerRun asks the daemon to run as soon as possible. The returned
// bool reports whether the request was queued; false means a run was
// already pending.
func (c *Client) TriggerRun(ctx context.Context, trigger forkd.Trigger) (bool, error) {
	params := []string{}
	if trigger.CandidateVersion != "" {
		params = append(params, "candidate", trigger.CandidateVersion)
	}
	if trigger.DryRun {
		params = append(params, "dryRun", strconv.FormatBool(trigger.DryRun))
	}
	var res transport.TriggerResponse
	err := c.methodWithResp(ctx, "POST", &res, "TriggerRun", nil, params...)
	return res.Queued, err
}

func (c *Client) GetRun(ctx context.Context, id string) (forkd.ExecutionState, error) {
	var res forkd.ExecutionState
	err := c.methodWithResp(ctx, "GET", &res, "GetRun", []string{"id", id})
	return res, err
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]forkd.ExecutionState, error) {
	params := []string{}
	if limit > 0 {
		params = append(params, "limit", strconv.Itoa(limit))
	}
	var res []forkd.ExecutionState
	err := c.methodWithResp(ctx, "GET", &res, "ListRuns", nil, params...)
	return res, err
}

func (c *Client) Status(ctx context.Context) (transport.StatusResponse, error) {
	var res transport.StatusResponse
	err := c.methodWithResp(ctx, "GET", &res, "Status", nil)
	return res, err
}

func (c *Client) Ping(ctx context.Context) error {
	return c.methodWithResp(ctx, "HEAD", nil, "Ping", nil)
}

// makeURL resolves a named route against the endpoint, filling in any
// path variables and appending query parameters.
func (c *Client) makeURL(routeName string, pathVars []string, queryParams ...string) (*url.URL, error) {
	if len(queryParams)%2 != 0 {
		panic("queryParams must be even!")
	}

	endpointURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", c.endpoint)
	}
	route := c.router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath(pathVars...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	v := url.Values{}
	for i := 0; i < len(queryParams); i += 2 {
		v.Add(queryParams[i], queryParams[i+1])
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

// methodWithResp handles path and query encoding and decodes the
// response into dest, if dest is non-nil and the body is non-empty.
func (c *Client) methodWithResp(ctx context.Context, method string, dest interface{}, route string, pathVars []string, queryParams ...string) error {
	u, err := c.makeURL(route, pathVars, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if dest == nil {
		return nil
	}
	respBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response from server")
	}
	if len(respBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, store.ErrNoSuchExecution
	default:
		defer resp.Body.Close()
		var apiError struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiError); err == nil && apiError.Error != "" {
			return nil, errors.New(apiError.Error)
		}
		return nil, errors.New(resp.Status)
	}
}
