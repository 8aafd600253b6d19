package envelope_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/envelope"
)

func TestBuild_SingleFunctionWire(t *testing.T) {
	t.Parallel()

	b := envelope.Builder{SenderID: "sender", SenderPassword: "spw", SessionID: "sess-1"}
	got, err := b.Build("<readMore><object>VENDOR</object></readMore>", true, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<request><control><senderid>sender</senderid><password>spw</password>` +
		`<controlid>foobar</controlid><uniqueid>false</uniqueid><dtdversion>3.0</dtdversion></control>` +
		`<operation transaction="true"><authentication><sessionid>sess-1</sessionid></authentication>` +
		`<content><function controlid="foobar"><readMore><object>VENDOR</object></readMore></function></content>` +
		`</operation></request>`
	if got != want {
		t.Fatalf("unexpected envelope:\nwant %s\ngot  %s", want, got)
	}
}

func TestBuild_MultiFunctionPutsBodyInContent(t *testing.T) {
	t.Parallel()

	b := envelope.Builder{SessionID: "s"}
	fns := `<function controlid="a"><inspect><object>X</object></inspect></function>` +
		`<function controlid="b"><inspect><object>Y</object></inspect></function>`
	got, err := b.Build(fns, false, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(got, `<operation transaction="false">`) {
		t.Fatalf("expected non-transactional operation: %s", got)
	}
	if !strings.Contains(got, "<content>"+fns+"</content>") {
		t.Fatalf("expected functions verbatim inside content: %s", got)
	}
}

func TestLoginRequest_EntityScopes(t *testing.T) {
	t.Parallel()

	b := envelope.Builder{SenderID: "sender", SenderPassword: "spw", DTDVersion: "3.0"}
	got, err := b.LoginRequest(envelope.Login{
		UserID: "u", CompanyID: "co", Password: "p&w", EntityType: "client", EntityID: "C1",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	wantAuth := "<authentication><login><userid>u</userid><companyid>co</companyid>" +
		"<password>p&amp;w</password><clientid>C1</clientid></login></authentication>"
	if !strings.Contains(got, wantAuth) {
		t.Fatalf("missing login block %s in %s", wantAuth, got)
	}
	if !strings.Contains(got, `<function controlid="foobar"><getAPISession></getAPISession></function>`) {
		t.Fatalf("missing bootstrap function: %s", got)
	}
	if strings.Contains(got, "transaction=") {
		t.Fatalf("bootstrap must not carry a transaction attribute: %s", got)
	}

	loc, err := b.LoginRequest(envelope.Login{UserID: "u", CompanyID: "co", EntityType: "location", EntityID: "L1"})
	if err != nil || !strings.Contains(loc, "<locationid>L1</locationid>") {
		t.Fatalf("expected location scope, got %s (err=%v)", loc, err)
	}

	if _, err := b.LoginRequest(envelope.Login{UserID: "u", CompanyID: "co", EntityType: "dept", EntityID: "D"}); !errors.Is(err, core.ErrArgument) {
		t.Fatalf("expected ErrArgument for unknown entity type, got %v", err)
	}
}

func TestSessionRequest(t *testing.T) {
	t.Parallel()

	got, err := envelope.Builder{}.SessionRequest("abc")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !strings.Contains(got, "<authentication><sessionid>abc</sessionid></authentication>") {
		t.Fatalf("unexpected session bootstrap: %s", got)
	}
	if _, err := (envelope.Builder{}).SessionRequest(" "); !errors.Is(err, core.ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}

func TestFunctionBodies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		call func() (envelope.Call, error)
		want string
		kind core.Kind
	}{
		{
			name: "delete",
			call: func() (envelope.Call, error) { return envelope.Delete("VENDOR", []string{"1", " 2 ", ""}) },
			want: "<delete><object>VENDOR</object><keys>1,2</keys></delete>",
			kind: core.KindDelete,
		},
		{
			name: "read all",
			call: func() (envelope.Call, error) { return envelope.Read("VENDOR", nil, "", core.FormatRecords) },
			want: "<read><object>VENDOR</object><keys></keys><fields>*</fields><returnFormat>xml</returnFormat></read>",
			kind: core.KindRead,
		},
		{
			name: "readByQuery",
			call: func() (envelope.Call, error) {
				return envelope.ReadByQuery("CUSTOMER", "RECORDNO > 0", "name,recordno", 50, core.FormatTable)
			},
			want: "<readByQuery><object>CUSTOMER</object><query>RECORDNO &gt; 0</query><fields>NAME,RECORDNO</fields>" +
				"<returnFormat>csv</returnFormat><pagesize>50</pagesize></readByQuery>",
			kind: core.KindReadByQuery,
		},
		{
			name: "readMore",
			call: func() (envelope.Call, error) { return envelope.ReadMore("CUSTOMER", core.FormatRecords) },
			want: "<readMore><object>CUSTOMER</object></readMore>",
			kind: core.KindReadMore,
		},
		{
			name: "readByName",
			call: func() (envelope.Call, error) {
				return envelope.ReadByName("CUSTOMER", []string{"C1", "C2"}, "NAME", core.FormatMarkup)
			},
			want: "<readByName><object>CUSTOMER</object><keys>C1,C2</keys><fields>NAME</fields><returnFormat>xml</returnFormat></readByName>",
			kind: core.KindReadByName,
		},
		{
			name: "readRelated",
			call: func() (envelope.Call, error) {
				return envelope.ReadRelated("CUSTOMER", []string{"7"}, "CONTACT", "", core.FormatRecords)
			},
			want: "<readRelated><object>CUSTOMER</object><keys>7</keys><relation>CONTACT</relation><fields>*</fields>" +
				"<returnFormat>xml</returnFormat></readRelated>",
			kind: core.KindReadRelated,
		},
		{
			name: "readRelated without relation falls back to read",
			call: func() (envelope.Call, error) {
				return envelope.ReadRelated("CUSTOMER", []string{"7"}, "", "", core.FormatRecords)
			},
			want: "<read><object>CUSTOMER</object><keys>7</keys><fields>*</fields><returnFormat>xml</returnFormat></read>",
			kind: core.KindRead,
		},
		{
			name: "inspect detail",
			call: func() (envelope.Call, error) { return envelope.Inspect("GLACCOUNT", true) },
			want: `<inspect detail="true"><object>GLACCOUNT</object></inspect>`,
			kind: core.KindInspectDetail,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.call()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Body != tc.want {
				t.Fatalf("unexpected body:\nwant %s\ngot  %s", tc.want, got.Body)
			}
			if got.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, got.Kind)
			}
		})
	}
}

func TestCreate_RegistryAndLimits(t *testing.T) {
	t.Parallel()

	recs := []core.Record{
		core.NewRecord("VENDOR", map[string]any{"NAME": "v"}),
		core.NewRecord("CUSTOMER", map[string]any{"NAME": "c"}),
	}
	call, err := envelope.Create(recs)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if want := "<create><VENDOR><NAME>v</NAME></VENDOR><CUSTOMER><NAME>c</NAME></CUSTOMER></create>"; call.Body != want {
		t.Fatalf("unexpected body: %s", call.Body)
	}
	if names := call.Objects.Names(); len(names) != 2 || names[0] != "VENDOR" {
		t.Fatalf("unexpected registry: %v", names)
	}

	big := make([]core.Record, core.MaxBatch+1)
	for i := range big {
		big[i] = core.NewRecord("VENDOR", map[string]any{"NAME": "x"})
	}
	if _, err := envelope.Update(big); !errors.Is(err, core.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if _, err := envelope.Create(nil); !errors.Is(err, core.ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}

func TestInvoke_RejectsMalformed(t *testing.T) {
	t.Parallel()

	if _, err := envelope.Invoke("<function><inspect></function>"); !errors.Is(err, core.ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
	call, err := envelope.Invoke("<function controlid=\"x\"><inspect><object>A</object></inspect></function>")
	if err != nil || call.Kind != core.KindInvoke {
		t.Fatalf("unexpected result %v, %v", call, err)
	}
}
