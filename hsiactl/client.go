package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pablomguevara/my-mininet/hsia/api"
	"github.com/pablomguevara/my-mininet/hsia/macTable"
	"github.com/pablomguevara/my-mininet/hsia/switchMgr"
)

// Client of the hsiad REST api
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newApiClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *apiClient) get(path string, v interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *apiClient) Switches() ([]switchMgr.SwitchInfo, error) {
	var list []switchMgr.SwitchInfo
	err := c.get("/switches/", &list)
	return list, err
}

func (c *apiClient) Switch(dpid string) (*switchMgr.SwitchInfo, error) {
	var info switchMgr.SwitchInfo
	if err := c.get("/switches/"+dpid, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *apiClient) Macs(dpid string) ([]macTable.Entry, error) {
	var entries []macTable.Entry
	err := c.get("/switches/"+dpid+"/macs", &entries)
	return entries, err
}

func (c *apiClient) Identities() ([]api.IdentityInfo, error) {
	var ids []api.IdentityInfo
	err := c.get("/identities", &ids)
	return ids, err
}
