package mockgateway

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strings"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

func writeXML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write([]byte(xmlHeader + doc))
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func controlBlock(ctl *node, status string) string {
	var b strings.Builder
	b.WriteString("<control><status>" + status + "</status>")
	b.WriteString("<senderid>" + escape(ctl.childText("senderid")) + "</senderid>")
	b.WriteString("<controlid>" + escape(ctl.childText("controlid")) + "</controlid>")
	b.WriteString("<uniqueid>false</uniqueid><dtdversion>" + escape(ctl.childText("dtdversion")) + "</dtdversion></control>")
	return b.String()
}

func errorBlock(e gwError) string {
	return "<errormessage><error><errorno>" + escape(e.no) + "</errorno><description>" +
		escape(e.description) + "</description><description2></description2><correction>" +
		escape(e.correction) + "</correction></error></errormessage>"
}

func controlFailure(ctl *node) string {
	return "<response>" + controlBlock(ctl, "failure") + errorBlock(gwError{
		no:          "XL03000006",
		description: "Incorrect Intacct XML Partner ID or Partner Password.",
		correction:  "Check the sender credentials.",
	}) + "</response>"
}

func authFailure(ctl *node) string {
	return "<response>" + controlBlock(ctl, "success") +
		"<operation><authentication><status>failure</status></authentication>" +
		errorBlock(gwError{
			no:          "XL03000006",
			description: "Sign-in information is incorrect or the session has expired.",
			correction:  "Sign in again.",
		}) + "</operation></response>"
}

func response(ctl *node, userID string, results []result) string {
	var b strings.Builder
	b.WriteString("<response>" + controlBlock(ctl, "success"))
	b.WriteString("<operation><authentication><status>success</status><userid>" + escape(userID) + "</userid></authentication>")
	for _, r := range results {
		status := "success"
		if r.failed != nil {
			status = "failure"
		}
		b.WriteString("<result><status>" + status + "</status><function>" + escape(r.function) +
			"</function><controlid>foobar</controlid>")
		if r.data != "" || len(r.attrs) > 0 {
			b.WriteString("<data")
			for _, a := range r.attrs {
				b.WriteString(" " + a[0] + `="` + escape(a[1]) + `"`)
			}
			b.WriteString(">" + r.data + "</data>")
		}
		if r.failed != nil {
			b.WriteString(errorBlock(*r.failed))
		}
		b.WriteString("</result>")
	}
	b.WriteString("</operation></response>")
	return b.String()
}
