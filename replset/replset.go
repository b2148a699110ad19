// Package replset simulates a MongoDB replica set for exercising a
// driver's topology discovery, failover, and query routing without a
// real multi-node deployment. Each member is a mock server that
// autoresponds to isMaster with a role-appropriate handshake; every
// other request, no matter which member receives it, funnels into one
// queue the test consumes.
package replset

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/inconshreveable/log15.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/ociule/mockmongo/pkg/threadsafe"
	"github.com/ociule/mockmongo/server"
	"github.com/ociule/mockmongo/wire"
)

// SetName is the replica set name advertised in every member's
// handshake and in the connection URI.
const SetName = "rs"

// requestTimeout is how long the Receives helpers wait for a client
// request before giving up.
// TODO: make the timeout configurable
const requestTimeout = 100 * time.Millisecond

// Role is a replica set member's role. Roles are fixed at construction;
// the fixture does not simulate elections.
type Role int

const (
	RolePrimary Role = iota
	RoleSecondary
	RoleArbiter
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	case RoleArbiter:
		return "arbiter"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ReplSet is a mock replica set: one primary plus configurable
// secondaries and arbiters. Call Run to start it, then URI to connect a
// client under test. The caller must Destroy it, once, after Run.
type ReplSet struct {
	Logger log15.Logger

	maxWireVersion int
	nSecondaries   int
	nArbiters      int

	// servers holds every member in order: primary, then secondaries,
	// then arbiters. Written once during Run.
	servers  []*server.Server
	hosts    []string
	hostsStr string
	uri      string

	q *threadsafe.Queue[*server.Request]

	verbose bool
}

// New returns a mock replica set whose members will all autorespond to
// isMaster. It has no network side effects; call Run to start the
// members.
func New(maxWireVersion, secondaries, arbiters int) *ReplSet {
	return &ReplSet{
		Logger:         log15.New("app", "mockmongo", "component", "replset"),
		maxWireVersion: maxWireVersion,
		nSecondaries:   secondaries,
		nArbiters:      arbiters,
		q:              threadsafe.NewQueue[*server.Request](),
	}
}

// role returns the role of the member at position i in the sequence.
func (rs *ReplSet) role(i int) Role {
	switch {
	case i == 0:
		return RolePrimary
	case i <= rs.nSecondaries:
		return RoleSecondary
	default:
		return RoleArbiter
	}
}

// Run starts each member listening on an unused port, renders the hosts
// string and connection URI, and installs each member's isMaster
// autoresponse. Any member failing to bind is fatal for the fixture and
// returned as an error.
func (rs *ReplSet) Run() error {
	logger := rs.Logger.New("fn", "Run")

	n := 1 + rs.nSecondaries + rs.nArbiters
	rs.servers = make([]*server.Server, 0, n)
	for i := 0; i < n; i++ {
		srv := server.New()
		srv.Logger = rs.Logger.New("role", rs.role(i).String(), "member", i)
		if err := srv.Run(); err != nil {
			logger.Error("error starting member", "role", rs.role(i).String(), "err", err)
			return err
		}
		rs.servers = append(rs.servers, srv)
	}

	// Funnel unhandled requests from every member into the shared
	// queue. Registered before the isMaster responder so the handshake
	// is consulted first at request time and the catch-all runs last.
	for _, srv := range rs.servers {
		srv.Autoresponds(rs.enqueue)
	}

	// Now every port is known.
	rs.hosts = make([]string, len(rs.servers))
	quoted := make([]string, len(rs.servers))
	for i, srv := range rs.servers {
		rs.hosts[i] = srv.HostAndPort()
		quoted[i] = fmt.Sprintf("%q", rs.hosts[i])
	}
	rs.hostsStr = strings.Join(quoted, ", ")
	rs.uri = "mongodb://" + strings.Join(rs.hosts, ",") + "/?replicaSet=" + SetName

	for i, srv := range rs.servers {
		srv.AutoIsMaster(isMasterDoc(rs.role(i), rs.hosts, rs.maxWireVersion))
	}

	for _, srv := range rs.servers {
		srv.SetVerbose(rs.verbose)
	}

	logger.Info("replica set running", "uri", rs.uri)
	return nil
}

func (rs *ReplSet) enqueue(r *server.Request) bool {
	rs.q.Push(r)
	return true // handled
}

// isMasterDoc builds one member's handshake response. The asymmetry is
// deliberate: arbiters report both ismaster and arbiterOnly, matching
// real server behavior that drivers' topology handling depends on. All
// roles advertise the full member list, arbiters included.
func isMasterDoc(role Role, hosts []string, maxWireVersion int) bson.D {
	doc := bson.D{
		{Name: "ok", Value: 1},
		{Name: "ismaster", Value: role != RoleSecondary},
	}
	switch role {
	case RolePrimary:
		doc = append(doc, bson.DocElem{Name: "secondary", Value: false})
	case RoleSecondary:
		doc = append(doc, bson.DocElem{Name: "secondary", Value: true})
	case RoleArbiter:
		doc = append(doc, bson.DocElem{Name: "arbiterOnly", Value: true})
	}
	return append(doc,
		bson.DocElem{Name: "maxWireVersion", Value: maxWireVersion},
		bson.DocElem{Name: "setName", Value: SetName},
		bson.DocElem{Name: "hosts", Value: hosts},
	)
}

// URI returns the connection string for the whole set. Call after Run.
func (rs *ReplSet) URI() string {
	return rs.uri
}

// HostsString returns the members as a quoted, comma-separated list in
// member order, e.g. `"127.0.0.1:5001", "127.0.0.1:5002"`. Call after
// Run.
func (rs *ReplSet) HostsString() string {
	return rs.hostsStr
}

// Hosts returns every member's "host:port" in member order. Call after
// Run.
func (rs *ReplSet) Hosts() []string {
	return rs.hosts
}

// Primary returns the primary member.
func (rs *ReplSet) Primary() *server.Server {
	return rs.servers[0]
}

// Secondaries returns the secondary members in order.
func (rs *ReplSet) Secondaries() []*server.Server {
	return rs.servers[1 : 1+rs.nSecondaries]
}

// Arbiters returns the arbiter members in order.
func (rs *ReplSet) Arbiters() []*server.Server {
	return rs.servers[1+rs.nSecondaries:]
}

// SetVerbose tells the replica set whether to log wire traffic during
// normal operation.
func (rs *ReplSet) SetVerbose(verbose bool) {
	rs.verbose = verbose

	for _, srv := range rs.servers {
		srv.SetVerbose(verbose)
	}
}

// ReceivesQuery pops a client request if one is enqueued, or waits up
// to 100ms for the client to send one. It returns nil, with a logged
// diagnostic, if nothing arrives or if the request is not a query
// matching ns, flags, skip, nReturn, query, and fields. A mismatched
// request is dropped by this call; the caller never cleans up the
// no-match branch. Requests from every member arrive here, so the
// caller does not choose a member, only the shape it expects next.
func (rs *ReplSet) ReceivesQuery(ns string, flags wire.QueryFlags, skip, nReturn int32, query, fields interface{}) *server.Request {
	request, ok := rs.q.Pop(requestTimeout)
	if !ok {
		rs.Logger.Error("timed out waiting for client request", "fn", "ReceivesQuery", "ns", ns)
		return nil
	}

	if !request.MatchesQuery(ns, flags, skip, nReturn, query, fields) {
		return nil
	}

	return request
}

// Receives pops the next client request from any member regardless of
// its shape, or returns nil if none arrives within the timeout.
func (rs *ReplSet) Receives() *server.Request {
	request, ok := rs.q.Pop(requestTimeout)
	if !ok {
		return nil
	}
	return request
}

// ReceivesKillCursors pops a client request if one is enqueued, or
// waits up to 100ms for the client to send one. It returns nil, with a
// logged diagnostic, unless the request is an OP_KILLCURSORS for
// exactly the given cursor id.
//
// Real-life OP_KILLCURSORS can take multiple ids, but that is not yet
// supported here.
func (rs *ReplSet) ReceivesKillCursors(cursorID int64) *server.Request {
	request, ok := rs.q.Pop(requestTimeout)
	if !ok {
		rs.Logger.Error("timed out waiting for client request", "fn", "ReceivesKillCursors", "cursorId", cursorID)
		return nil
	}

	if !request.MatchesKillCursors(cursorID) {
		return nil
	}

	return request
}

// Replies responds to a previously received request over the connection
// it arrived on, whichever member that was.
func (rs *ReplSet) Replies(request *server.Request, flags wire.ReplyFlags, cursorID int64, startingFrom, numberReturned int32, docs ...interface{}) error {
	return request.Server().Replies(request, flags, cursorID, startingFrom, numberReturned, docs...)
}

// Destroy stops every member, closing its sockets and joining its
// goroutines. Call exactly once, after Run.
func (rs *ReplSet) Destroy() {
	logger := rs.Logger.New("fn", "Destroy")

	for i, srv := range rs.servers {
		if err := srv.Stop(); err != nil {
			logger.Error("error stopping member", "role", rs.role(i).String(), "err", err)
		}
	}

	rs.servers = nil
	rs.hosts = nil
	rs.hostsStr = ""
	rs.uri = ""
	rs.q = nil
}
