package reconcile_test

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/envelope"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/reconcile"
)

func reply(result string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` + "\r" +
		`<response><control><status>success</status></control><operation>` +
		`<authentication><status>success</status><userid>u</userid></authentication>` +
		result + `</operation></response>` + "\r"
}

func customers(names ...string) []core.Record {
	out := make([]core.Record, 0, len(names))
	for _, n := range names {
		out = append(out, core.NewRecord("CUSTOMER", map[string]any{"NAME": n}))
	}
	return out
}

func names(recs []core.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Text("NAME"))
	}
	return out
}

func TestReconcile_CreateSuccess(t *testing.T) {
	t.Parallel()

	call, err := envelope.Create(customers("c1", "c2"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	raw := reply(`<result><status>success</status><function>create</function><controlid>foobar</controlid>` +
		`<data listtype="objects" count="2"><CUSTOMER><RECORDNO>10</RECORDNO><NAME>c1</NAME></CUSTOMER>` +
		`<CUSTOMER><RECORDNO>11</RECORDNO><NAME>c2</NAME></CUSTOMER></data></result>`)

	res, err := reconcile.Reconcile(raw, call, "<request/>")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff([]string{"c1", "c2"}, names(res.Correct)); diff != "" {
		t.Fatalf("unexpected records (-want +got):\n%s", diff)
	}
	if res.Correct[1].Text("RECORDNO") != "11" {
		t.Fatalf("expected RECORDNO 11, got %q", res.Correct[1].Text("RECORDNO"))
	}
}

func TestReconcile_PartialFailureIdentifiesRecord(t *testing.T) {
	t.Parallel()

	call, err := envelope.Create(customers("c1", "c2", "c3"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	raw := reply(`<result><status>failure</status><function>create</function>` +
		`<data listtype="objects" count="2"><CUSTOMER><NAME>c1</NAME></CUSTOMER><CUSTOMER><NAME>c2</NAME></CUSTOMER></data>` +
		`<errormessage><error><errorno>BL34000061</errorno><description></description>` +
		`<description2>Another Customer with the given value(s) c3 already exists</description2>` +
		`<correction>Use a unique value instead.</correction></error></errormessage></result>`)

	_, err = reconcile.Reconcile(raw, call, "<password>secret</password>")
	var rf *core.RemoteFailure
	if !errors.As(err, &rf) {
		t.Fatalf("expected RemoteFailure, got %v", err)
	}
	if rf.FailedIndex != 2 {
		t.Fatalf("expected failed index 2, got %d", rf.FailedIndex)
	}
	if rf.FailedRecord == nil || rf.FailedRecord.Text("NAME") != "c3" {
		t.Fatalf("expected failing record c3, got %#v", rf.FailedRecord)
	}
	if diff := cmp.Diff([]string{"c1", "c2"}, names(rf.Committed)); diff != "" {
		t.Fatalf("unexpected committed (-want +got):\n%s", diff)
	}
	if rf.BestEffort {
		t.Fatalf("single object type batch should not be best effort")
	}
	want := "BL34000061 Use a unique value instead. Another Customer with the given value(s) c3 already exists"
	if rf.Message != want {
		t.Fatalf("unexpected message:\nwant %q\ngot  %q", want, rf.Message)
	}
	if strings.Contains(rf.Request, "secret") {
		t.Fatalf("request snippet leaked a secret: %s", rf.Request)
	}
}

func TestReconcile_FailureIndexMatchesCount(t *testing.T) {
	t.Parallel()

	recs := customers("a", "b", "c", "d", "e")
	call, err := envelope.Update(recs)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	for k := 0; k < len(recs); k++ {
		var data strings.Builder
		for _, r := range recs[:k] {
			data.WriteString("<CUSTOMER><NAME>" + r.Text("NAME") + "</NAME></CUSTOMER>")
		}
		raw := reply(`<result><status>failure</status><data count="` + strconv.Itoa(k) + `">` + data.String() + `</data>` +
			`<errormessage><error><errorno>E</errorno></error></errormessage></result>`)

		_, err := reconcile.Reconcile(raw, call, "")
		var rf *core.RemoteFailure
		if !errors.As(err, &rf) {
			t.Fatalf("k=%d: expected RemoteFailure, got %v", k, err)
		}
		if rf.FailedIndex != k || len(rf.Committed) != k {
			t.Fatalf("k=%d: got index %d committed %d", k, rf.FailedIndex, len(rf.Committed))
		}
		if rf.FailedRecord == nil || rf.FailedRecord.Text("NAME") != recs[k].Text("NAME") {
			t.Fatalf("k=%d: wrong failing record %#v", k, rf.FailedRecord)
		}
	}
}

func TestReconcile_MixedTypesIsBestEffort(t *testing.T) {
	t.Parallel()

	call, err := envelope.Create([]core.Record{
		core.NewRecord("VENDOR", map[string]any{"NAME": "v1"}),
		core.NewRecord("CUSTOMER", map[string]any{"NAME": "c1"}),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	raw := reply(`<result><status>failure</status><data count="1"><VENDOR><NAME>v1</NAME></VENDOR></data>` +
		`<errormessage><error><errorno>E1</errorno></error><error><errorno>E2</errorno></error></errormessage></result>`)

	_, err = reconcile.Reconcile(raw, call, "")
	var rf *core.RemoteFailure
	if !errors.As(err, &rf) {
		t.Fatalf("expected RemoteFailure, got %v", err)
	}
	if !rf.BestEffort {
		t.Fatalf("expected best effort flag for mixed object types")
	}
	if rf.Message != "E1" {
		t.Fatalf("expected first error entry, got %q", rf.Message)
	}
}

func TestReconcile_IndexOutsideBatch(t *testing.T) {
	t.Parallel()

	call, _ := envelope.Create(customers("c1"))
	raw := reply(`<result><status>failure</status><data count="4"></data>` +
		`<errormessage><error><errorno>E</errorno></error></errormessage></result>`)
	_, err := reconcile.Reconcile(raw, call, "")
	var rf *core.RemoteFailure
	if !errors.As(err, &rf) {
		t.Fatalf("expected RemoteFailure, got %v", err)
	}
	if rf.FailedRecord != nil || !rf.BestEffort {
		t.Fatalf("expected no failing record and best effort, got %#v", rf)
	}
}

func TestReconcile_GrammarErrors(t *testing.T) {
	t.Parallel()

	call, _ := envelope.Create(customers("c1"))
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{name: "empty", raw: "\r", want: core.ErrMalformedResponse},
		{name: "not xml", raw: "<response><operation>", want: core.ErrMalformedResponse},
		{name: "no result", raw: reply(""), want: core.ErrMalformedResponse},
		{name: "unknown status", raw: reply(`<result><status>pending</status></result>`), want: core.ErrProtocolViolation},
		{
			name: "error node is text",
			raw:  reply(`<result><status>failure</status><errormessage><error>boom</error></errormessage></result>`),
			want: core.ErrProtocolViolation,
		},
		{
			name: "failure without errormessage",
			raw:  reply(`<result><status>failure</status></result>`),
			want: core.ErrProtocolViolation,
		},
		{
			name: "empty errormessage",
			raw:  reply(`<result><status>failure</status><errormessage/></result>`),
			want: core.ErrProtocolViolation,
		},
		{
			name: "errormessage without error",
			raw:  reply(`<result><status>failure</status><errormessage><detail>x</detail></errormessage></result>`),
			want: core.ErrProtocolViolation,
		},
		{
			name: "empty error entry",
			raw:  reply(`<result><status>failure</status><errormessage><error/></errormessage></result>`),
			want: core.ErrProtocolViolation,
		},
		{
			name: "bad count",
			raw:  reply(`<result><status>success</status><data count="x"></data></result>`),
			want: core.ErrProtocolViolation,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := reconcile.Reconcile(tc.raw, call, "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestReconcile_ControlAndAuthFailures(t *testing.T) {
	t.Parallel()

	call, _ := envelope.ReadMore("CUSTOMER", core.FormatRecords)
	control := `<response><control><status>failure</status></control>` +
		`<errormessage><error><errorno>XL03000006</errorno><description>Incorrect Intacct XML Partner ID or password.</description></error></errormessage></response>`
	_, err := reconcile.Reconcile(control, call, "")
	if !errors.Is(err, core.ErrRemoteFailure) || !strings.Contains(err.Error(), "XL03000006") {
		t.Fatalf("expected control failure, got %v", err)
	}

	auth := `<response><control><status>success</status></control><operation>` +
		`<authentication><status>failure</status></authentication>` +
		`<errormessage><error><errorno>XL03000006</errorno><description>Sign-in information is incorrect</description></error></errormessage>` +
		`</operation></response>`
	_, err = reconcile.Reconcile(auth, call, "")
	var rf *core.RemoteFailure
	if !errors.As(err, &rf) || !strings.HasPrefix(rf.Message, "authentication:") {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestReconcile_ControlFailureWithoutDetail(t *testing.T) {
	t.Parallel()

	call, _ := envelope.ReadMore("CUSTOMER", core.FormatRecords)
	_, err := reconcile.Reconcile(`<response><control><status>failure</status></control></response>`, call, "")
	var rf *core.RemoteFailure
	if !errors.As(err, &rf) || !strings.HasPrefix(rf.Message, "control:") {
		t.Fatalf("expected control failure, got %v", err)
	}
}

func TestReconcile_ReadAttributes(t *testing.T) {
	t.Parallel()

	call, _ := envelope.ReadByQuery("CUSTOMER", "", "", 2, core.FormatRecords)
	raw := reply(`<result><status>success</status><function>readByQuery</function>` +
		`<data listtype="customer" count="2" totalcount="5" numremaining="3" resultId="r-1">` +
		`<customer><NAME>lower</NAME></customer>` +
		`<CUSTOMER><NAME>c1</NAME></CUSTOMER><CUSTOMER><NAME>c2</NAME></CUSTOMER></data></result>`)
	res, err := reconcile.Reconcile(raw, call, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Read.Count != 2 {
		t.Fatalf("expected count 2, got %d", res.Read.Count)
	}
	if res.Read.TotalCount != 5 || res.Read.NumRemaining != 3 || !res.Read.HasMore || res.Read.ResultID != "r-1" {
		t.Fatalf("unexpected read result %#v", res.Read)
	}
	if diff := cmp.Diff([]string{"c1", "c2"}, names(res.Read.Records)); diff != "" {
		t.Fatalf("only registered object records expected (-want +got):\n%s", diff)
	}
}

func TestReconcile_EmptyReadData(t *testing.T) {
	t.Parallel()

	call, _ := envelope.ReadByQuery("CUSTOMER", "", "", 10, core.FormatRecords)
	raw := reply(`<result><status>success</status><data listtype="customer" count="0" totalcount="0" numremaining="0"/></result>`)
	res, err := reconcile.Reconcile(raw, call, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.Read.Records) != 0 || res.Read.HasMore || !res.Read.RemainingKnown {
		t.Fatalf("unexpected read result %#v", res.Read)
	}
}

func TestReconcile_Tabular(t *testing.T) {
	t.Parallel()

	call, _ := envelope.ReadByQuery("CUSTOMER", "", "NAME", 10, core.FormatTable)
	res, err := reconcile.Reconcile("\"NAME\"\r\"c1\"\r\"c2\"\r", call, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Read.Count != 2 || res.Read.RemainingKnown {
		t.Fatalf("unexpected tabular read %#v", res.Read)
	}

	empty, err := reconcile.Reconcile("", call, "")
	if err != nil || empty.Read.Count != 0 {
		t.Fatalf("empty tabular page should be a legitimate empty result, got %#v, %v", empty, err)
	}

	failed := reply(`<result><status>failure</status><errormessage><error><errorno>Q1</errorno></error></errormessage></result>`)
	if _, err := reconcile.Reconcile(failed, call, ""); !errors.Is(err, core.ErrRemoteFailure) {
		t.Fatalf("xml failure reply in tabular mode should be a RemoteFailure, got %v", err)
	}
}

func TestReconcile_InspectMetadata(t *testing.T) {
	t.Parallel()

	plain, _ := envelope.Inspect("GLACCOUNT", false)
	raw := reply(`<result><status>success</status><data listtype="All" count="1">` +
		`<Type Name="GLACCOUNT"><Fields><Field>RECORDNO</Field><Field>ACCOUNTNO</Field></Fields></Type></data></result>`)
	res, err := reconcile.Reconcile(raw, plain, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	want := &core.ObjectMetadata{Name: "GLACCOUNT", Fields: []core.FieldDescriptor{{Name: "RECORDNO"}, {Name: "ACCOUNTNO"}}}
	if diff := cmp.Diff(want, res.Metadata); diff != "" {
		t.Fatalf("unexpected metadata (-want +got):\n%s", diff)
	}

	detail, _ := envelope.Inspect("GLACCOUNT", true)
	raw = reply(`<result><status>success</status><data listtype="All" count="1"><Type Name="GLACCOUNT"><Fields>` +
		`<Field><ID>ACCOUNTNO</ID><LABEL>Account</LABEL><REQUIRED>true</REQUIRED><DATATYPE>TEXT</DATATYPE></Field>` +
		`</Fields></Type></data></result>`)
	res, err = reconcile.Reconcile(raw, detail, "")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	want = &core.ObjectMetadata{Name: "GLACCOUNT", Fields: []core.FieldDescriptor{{
		Name:       "ACCOUNTNO",
		Attributes: map[string]string{"LABEL": "Account", "REQUIRED": "true", "DATATYPE": "TEXT"},
	}}}
	if diff := cmp.Diff(want, res.Metadata); diff != "" {
		t.Fatalf("unexpected metadata (-want +got):\n%s", diff)
	}
}

func TestReconcile_InvokeMultipleResults(t *testing.T) {
	t.Parallel()

	call, err := envelope.Invoke(`<function controlid="a"><readMore><object>X</object></readMore></function>`)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	ok := reply(`<result><status>success</status></result><result><status>success</status></result>`)
	if _, err := reconcile.Reconcile(ok, call, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := reply(`<result><status>success</status></result><result><status>failure</status>` +
		`<errormessage><error><errorno>E9</errorno></error></errormessage></result>`)
	_, err = reconcile.Reconcile(bad, call, "")
	var rf *core.RemoteFailure
	if !errors.As(err, &rf) || rf.FailedIndex != 1 || rf.Message != "E9" {
		t.Fatalf("expected failure at function 1, got %v", err)
	}
}

func TestValidateSession(t *testing.T) {
	t.Parallel()

	raw := reply(`<result><status>success</status><function>getAPISession</function><data><api>` +
		`<sessionid>sess-9</sessionid><endpoint>https://api.example.test/ia/xml/xmlgw.phtml</endpoint>` +
		`</api></data></result>`)
	sid, ep, err := reconcile.ValidateSession(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sid != "sess-9" || ep != "https://api.example.test/ia/xml/xmlgw.phtml" {
		t.Fatalf("unexpected session %q endpoint %q", sid, ep)
	}

	_, _, err = reconcile.ValidateSession(reply(`<result><status>success</status><data></data></result>`))
	if !errors.Is(err, core.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}
