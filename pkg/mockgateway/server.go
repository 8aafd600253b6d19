// Package mockgateway is an in-memory stand-in for the XML gateway: it
// authenticates sessions, stores records per object type, and answers the
// request grammar the client speaks, including partial failures, paginated
// queries, and the CSV return format.
package mockgateway

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/codec"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/tabular"
)

// Config sets what the mock accepts. Empty credentials are not enforced.
type Config struct {
	SenderID       string
	SenderPassword string

	UserID    string
	CompanyID string
	Password  string

	// UniqueField must be unique per object type (default NAME).
	UniqueField string
}

// Call records one function executed by the mock.
type Call struct {
	Function    string
	Object      string
	SessionID   string
	Transaction string
}

// Server implements the gateway endpoint.
type Server struct {
	cfg Config

	mu           sync.Mutex
	calls        []Call
	data         *store
	sessions     map[string]bool
	nextSession  int
	nextResult   int
	cursors      map[string]*cursor
	emptyReplies int
}

type cursor struct {
	id       string
	object   string
	fields   string
	csv      bool
	pageSize int
	rest     []core.Record
}

type gwError struct {
	no, description, correction string
}

type result struct {
	function string
	failed   *gwError

	// data is the inner XML of <data>, attrs its attributes in order.
	data  string
	attrs [][2]string

	// table is set for a successful CSV read.
	table *tabular.Table
}

// New constructs a mock with optional seed content.
func New(cfg Config, seed *Seed) *Server {
	if strings.TrimSpace(cfg.UniqueField) == "" {
		cfg.UniqueField = "NAME"
	}
	s := &Server{
		cfg:      cfg,
		data:     newStore(),
		sessions: map[string]bool{},
		cursors:  map[string]*cursor{},
	}
	s.data.load(seed)
	if seed != nil {
		for _, id := range seed.Sessions {
			s.sessions[id] = true
		}
	}
	return s
}

// Handler returns an http.Handler serving the gateway on every path.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

// Calls returns a snapshot of the functions executed so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Records returns a snapshot of the stored records of object.
func (s *Server) Records(object string) []core.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.all(object)
}

// AddSession makes id a valid session without a login.
func (s *Server) AddSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = true
}

// EmptyReplies makes the next n requests answer with an empty body.
func (s *Server) EmptyReplies(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyReplies = n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	doc := r.PostForm.Get("xmlrequest")
	req, err := parseNode([]byte(doc))
	if err != nil || req.name != "request" {
		http.Error(w, "xmlrequest is not a request document", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emptyReplies > 0 {
		s.emptyReplies--
		return
	}

	ctl := req.child("control")
	if !s.senderOK(ctl) {
		writeXML(w, controlFailure(ctl))
		return
	}
	op := req.child("operation")
	sid, userID, ok := s.authenticate(op.child("authentication"))
	if !ok {
		writeXML(w, authFailure(ctl))
		return
	}

	var functions []*node
	for _, c := range op.child("content").children {
		if c.name == "function" {
			functions = append(functions, c)
		}
	}
	transaction := op.attrs["transaction"]

	before := s.data.snapshot()
	var results []result
	for _, fn := range functions {
		res := s.execute(fn, sid, transaction, endpointOf(r))
		results = append(results, res)
		if res.failed != nil && transaction == "true" {
			s.data = before
			break
		}
	}

	if len(results) == 1 && results[0].failed == nil && results[0].table != nil {
		w.Header().Set("Content-Type", "text/csv")
		if results[0].table.Len() > 0 {
			_, _ = w.Write([]byte(results[0].table.String()))
		}
		return
	}
	writeXML(w, response(ctl, userID, results))
}

func (s *Server) senderOK(ctl *node) bool {
	if s.cfg.SenderID == "" {
		return true
	}
	return ctl.childText("senderid") == s.cfg.SenderID && ctl.childText("password") == s.cfg.SenderPassword
}

func (s *Server) authenticate(auth *node) (sid, userID string, ok bool) {
	if login := auth.child("login"); login != nil {
		userID = login.childText("userid")
		if s.cfg.UserID != "" && (userID != s.cfg.UserID ||
			login.childText("companyid") != s.cfg.CompanyID ||
			login.childText("password") != s.cfg.Password) {
			return "", "", false
		}
		s.nextSession++
		sid = "mock-session-" + strconv.Itoa(s.nextSession)
		s.sessions[sid] = true
		return sid, userID, true
	}
	sid = auth.childText("sessionid")
	if !s.sessions[sid] {
		return "", "", false
	}
	return sid, "", true
}

func (s *Server) execute(fn *node, sid, transaction, endpoint string) result {
	if len(fn.children) != 1 {
		return result{function: "unknown", failed: &gwError{no: "XL03000009", description: "Function element must hold exactly one operation"}}
	}
	body := fn.children[0]
	call := Call{Function: body.name, Object: body.childText("object"), SessionID: sid, Transaction: transaction}
	switch body.name {
	case "create", "update":
		if len(body.children) > 0 {
			call.Object = body.children[0].name
		}
	}
	s.calls = append(s.calls, call)

	switch body.name {
	case "getAPISession":
		return s.getAPISession(sid, endpoint)
	case "create":
		return s.create(body)
	case "update":
		return s.update(body)
	case "delete":
		return s.delete(body)
	case "read":
		return s.read(body, "RECORDNO")
	case "readByName":
		return s.read(body, s.cfg.UniqueField)
	case "readRelated":
		if body.childText("relation") == "" {
			return failed(body.name, gwError{no: "BL01001973", description: "relation is required"})
		}
		return s.read(body, "RECORDNO")
	case "readByQuery":
		return s.readByQuery(body, sid)
	case "readMore":
		return s.readMore(body, sid)
	case "inspect":
		return s.inspect(body)
	default:
		return failed(body.name, gwError{no: "XL03000009", description: "Unknown function " + body.name})
	}
}

func (s *Server) getAPISession(sid, endpoint string) result {
	var b bytes.Buffer
	b.WriteString("<api><sessionid>")
	_ = xml.EscapeText(&b, []byte(sid))
	b.WriteString("</sessionid><endpoint>")
	_ = xml.EscapeText(&b, []byte(endpoint))
	b.WriteString("</endpoint></api>")
	return result{function: "getAPISession", data: b.String()}
}

func (s *Server) create(body *node) result {
	var done []core.Record
	for _, el := range body.children {
		r := toRecord(el)
		if name := r.Text(s.cfg.UniqueField); name != "" {
			if _, dup := s.data.findBy(r.Object, s.cfg.UniqueField, name); dup {
				return partial("create", done, gwError{
					no:          "BL34000061",
					description: fmt.Sprintf("Another %s with the given value(s) %s already exists", r.Object, name),
					correction:  "Use a unique value instead.",
				})
			}
		}
		stored := s.data.insert(r)
		done = append(done, s.keyRecord(stored))
	}
	return records("create", done, nil)
}

func (s *Server) update(body *node) result {
	var done []core.Record
	for _, el := range body.children {
		r := toRecord(el)
		no, _ := lookup(r, "RECORDNO")
		idx, ok := s.data.find(r.Object, no)
		if !ok {
			return partial("update", done, gwError{
				no:          "BL01001973",
				description: fmt.Sprintf("Could not find %s record %q", r.Object, no),
				correction:  "Use a valid RECORDNO.",
			})
		}
		current := s.data.objects[r.Object][idx]
		if name := r.Text(s.cfg.UniqueField); name != "" {
			if other, dup := s.data.findBy(r.Object, s.cfg.UniqueField, name); dup && other != idx {
				return partial("update", done, gwError{
					no:          "BL34000061",
					description: fmt.Sprintf("Another %s with the given value(s) %s already exists", r.Object, name),
					correction:  "Use a unique value instead.",
				})
			}
		}
		merged := current.Clone()
		for k, v := range r.Fields {
			if strings.EqualFold(k, "RECORDNO") {
				continue
			}
			merged.Fields[k] = v
		}
		s.data.objects[r.Object][idx] = merged
		done = append(done, s.keyRecord(merged))
	}
	return records("update", done, nil)
}

func (s *Server) delete(body *node) result {
	object := body.childText("object")
	var done []core.Record
	for _, key := range splitList(body.childText("keys")) {
		idx, ok := s.data.find(object, key)
		if !ok {
			return partial("delete", done, gwError{
				no:          "BL01001973",
				description: fmt.Sprintf("Could not find %s record %q", object, key),
				correction:  "Use a valid RECORDNO.",
			})
		}
		s.data.remove(object, idx)
		done = append(done, core.NewRecord(object, map[string]any{"RECORDNO": key}))
	}
	return records("delete", done, nil)
}

func (s *Server) read(body *node, keyField string) result {
	object := body.childText("object")
	fields := body.childText("fields")
	keys := splitList(body.childText("keys"))
	var out []core.Record
	if len(keys) == 0 {
		out = s.data.all(object)
	} else {
		for _, k := range keys {
			var idx int
			var ok bool
			if keyField == "RECORDNO" {
				idx, ok = s.data.find(object, k)
			} else {
				idx, ok = s.data.findBy(object, keyField, k)
			}
			if ok {
				out = append(out, s.data.objects[object][idx])
			}
		}
	}
	for i := range out {
		out[i] = project(out[i], fields)
	}
	if isCSV(body) {
		return result{function: body.name, table: tabular.FromRecords(out)}
	}
	return records(body.name, out, nil)
}

func (s *Server) readByQuery(body *node, sid string) result {
	object := body.childText("object")
	pred, err := compileQuery(body.childText("query"))
	if err != nil {
		return failed("readByQuery", gwError{no: "DL02000001", description: "Invalid query: " + err.Error(), correction: "Check the query syntax."})
	}
	pageSize, err := strconv.Atoi(body.childText("pagesize"))
	if err != nil || pageSize <= 0 {
		pageSize = core.DefaultPageSize
	}
	var matched []core.Record
	for _, r := range s.data.all(object) {
		if pred(r) {
			matched = append(matched, r)
		}
	}
	s.nextResult++
	c := &cursor{
		id:       "mock-result-" + strconv.Itoa(s.nextResult),
		object:   object,
		fields:   body.childText("fields"),
		csv:      isCSV(body),
		pageSize: pageSize,
		rest:     matched,
	}
	s.cursors[sid+"/"+object] = c
	return s.page("readByQuery", c, len(matched))
}

func (s *Server) readMore(body *node, sid string) result {
	object := body.childText("object")
	c, ok := s.cursors[sid+"/"+object]
	if !ok {
		return failed("readMore", gwError{no: "DL02000001", description: "There is no more data for " + object, correction: "Run readByQuery first."})
	}
	return s.page("readMore", c, -1)
}

func (s *Server) page(function string, c *cursor, total int) result {
	n := min(c.pageSize, len(c.rest))
	out := make([]core.Record, 0, n)
	for _, r := range c.rest[:n] {
		out = append(out, project(r, c.fields))
	}
	c.rest = c.rest[n:]
	if len(c.rest) == 0 {
		for k, v := range s.cursors {
			if v == c {
				delete(s.cursors, k)
			}
		}
	}
	if c.csv {
		return result{function: function, table: tabular.FromRecords(out)}
	}
	attrs := [][2]string{}
	if total >= 0 {
		attrs = append(attrs, [2]string{"totalcount", strconv.Itoa(total)})
	}
	attrs = append(attrs,
		[2]string{"numremaining", strconv.Itoa(len(c.rest))},
		[2]string{"resultId", c.id},
	)
	return records(function, out, attrs)
}

func (s *Server) inspect(body *node) result {
	object := body.childText("object")
	if !s.data.known(object) {
		return failed("inspect", gwError{no: "DL02000002", description: "Object definition " + object + " not found", correction: "Use a valid object name."})
	}
	detail := body.attrs["detail"] == "true"
	var b bytes.Buffer
	b.WriteString(`<Type Name="`)
	_ = xml.EscapeText(&b, []byte(object))
	b.WriteString(`"><Fields>`)
	for _, name := range s.data.fieldNames(object) {
		if !detail {
			b.WriteString("<Field>" + escape(name) + "</Field>")
			continue
		}
		datatype, readonly := "TEXT", "false"
		if name == "RECORDNO" {
			datatype, readonly = "INTEGER", "true"
		}
		b.WriteString("<Field><ID>" + escape(name) + "</ID><LABEL>" + escape(name) +
			"</LABEL><DATATYPE>" + datatype + "</DATATYPE><READONLY>" + readonly + "</READONLY></Field>")
	}
	b.WriteString("</Fields></Type>")
	return result{function: "inspect", data: b.String(), attrs: [][2]string{{"listtype", "All"}, {"count", "1"}}}
}

// keyRecord is what create and update echo back: the record number and the
// unique field.
func (s *Server) keyRecord(r core.Record) core.Record {
	fields := map[string]any{"RECORDNO": r.Text("RECORDNO")}
	order := []string{"RECORDNO"}
	if v, ok := lookup(r, s.cfg.UniqueField); ok {
		fields[s.cfg.UniqueField] = v
		order = append(order, s.cfg.UniqueField)
	}
	return core.NewOrderedRecord(r.Object, fields, order)
}

func toRecord(el *node) core.Record {
	fields := map[string]any{}
	var order []string
	for _, c := range el.children {
		if _, seen := fields[c.name]; !seen {
			order = append(order, c.name)
		}
		fields[c.name] = c.value()
	}
	return core.NewOrderedRecord(el.name, fields, order)
}

func records(function string, recs []core.Record, attrs [][2]string) result {
	inner, err := codec.Encode(recs)
	if err != nil {
		return failed(function, gwError{no: "XL03000003", description: err.Error()})
	}
	head := [][2]string{{"listtype", "object"}, {"count", strconv.Itoa(len(recs))}}
	return result{function: function, data: inner, attrs: append(head, attrs...)}
}

// partial reports a failure after the records in done were processed; the
// data count is therefore the index of the failing record.
func partial(function string, done []core.Record, e gwError) result {
	res := records(function, done, nil)
	res.failed = &e
	return res
}

func failed(function string, e gwError) result {
	return result{function: function, failed: &e}
}

func isCSV(body *node) bool {
	return strings.EqualFold(body.childText("returnFormat"), "csv")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func endpointOf(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
