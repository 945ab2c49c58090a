package api

// Read-only HTTP API exposing switch state and the proxied identities.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pablomguevara/my-mininet/hsia/switchMgr"
	"github.com/pablomguevara/my-mininet/pkg/netutils"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type HttpApiFunc func(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error)

// Error carrying the http status to answer with
type httpError struct {
	code int
	err  error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

// Identity as shown by the api
type IdentityInfo struct {
	Name string `json:"name"`
	MAC  string `json:"mac"`
	IP   string `json:"ip"`
}

type Server struct {
	mgr    *switchMgr.SwitchMgr
	router *mux.Router
}

// Create the api server and initialize the router
func NewServer(mgr *switchMgr.SwitchMgr) *Server {
	srv := &Server{mgr: mgr}
	srv.router = srv.createRouter()

	return srv
}

// Handler serving the api
func (self *Server) Router() http.Handler {
	return self.router
}

// Serve the api on port until the listener fails
func (self *Server) ListenAndServe(port int) error {
	listenAddr := ":" + strconv.Itoa(port)

	log.Infof("HTTP server listening on %s", listenAddr)

	return http.ListenAndServe(listenAddr, self.router)
}

// Create a router and initialize the routes
func (self *Server) createRouter() *mux.Router {
	router := mux.NewRouter()

	// List of routes
	routeMap := map[string]map[string]HttpApiFunc{
		"GET": {
			"/switches/":            self.httpGetSwitchList,
			"/switches/{dpid}":      self.httpGetSwitch,
			"/switches/{dpid}/macs": self.httpGetMacs,
			"/identities":           self.httpGetIdentities,
		},
	}

	// Register each method/path
	for method, routes := range routeMap {
		for route, funct := range routes {
			log.Debugf("Registering %s %s", method, route)

			f := makeHttpHandler(method, route, funct)
			router.Path(route).Methods(method).HandlerFunc(f)
		}
	}

	return router
}

// Simple Wrapper for http handlers
func makeHttpHandler(localMethod string, localRoute string, handlerFunc HttpApiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("%s %s", r.Method, r.RequestURI)

		resp, err := handlerFunc(w, r, mux.Vars(r))
		if err != nil {
			code := http.StatusInternalServerError
			var herr *httpError
			if errors.As(err, &herr) {
				code = herr.code
			}

			if code == http.StatusInternalServerError {
				log.Errorf("Handler for %s %s returned error: %s", localMethod, localRoute, err)
			}

			http.Error(w, err.Error(), code)
			return
		}

		if err := writeJSON(w, http.StatusOK, resp); err != nil {
			log.Errorf("Error writing response for %s %s: %v", localMethod, localRoute, err)
		}
	}
}

// writeJSON: writes the value v to the http response stream as json with standard
// json encoding.
func writeJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	return json.NewEncoder(w).Encode(v)
}

func parseDpid(vars map[string]string) (uint64, error) {
	dpid, err := netutils.ParseDpid(vars["dpid"])
	if err != nil {
		return 0, &httpError{http.StatusBadRequest, fmt.Errorf("invalid dpid %q: %w", vars["dpid"], err)}
	}
	return dpid, nil
}

func switchError(dpid uint64, err error) error {
	if errors.Is(err, switchMgr.ErrUnknownSwitch) {
		return &httpError{http.StatusNotFound, fmt.Errorf("switch %s: %w", netutils.DpidString(dpid), err)}
	}
	return err
}

// ******************* Handlers *****************

func (self *Server) httpGetSwitchList(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error) {
	return self.mgr.ListSwitches(), nil
}

func (self *Server) httpGetSwitch(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error) {
	dpid, err := parseDpid(vars)
	if err != nil {
		return nil, err
	}

	info, err := self.mgr.GetSwitch(dpid)
	if err != nil {
		return nil, switchError(dpid, err)
	}

	return info, nil
}

func (self *Server) httpGetMacs(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error) {
	dpid, err := parseDpid(vars)
	if err != nil {
		return nil, err
	}

	entries, err := self.mgr.MacEntries(dpid)
	if err != nil {
		return nil, switchError(dpid, err)
	}

	return entries, nil
}

func (self *Server) httpGetIdentities(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error) {
	ids := []IdentityInfo{}
	for _, id := range self.mgr.Engine().Identities() {
		ids = append(ids, IdentityInfo{Name: id.Name, MAC: id.MAC.String(), IP: id.IP.String()})
	}

	return ids, nil
}
