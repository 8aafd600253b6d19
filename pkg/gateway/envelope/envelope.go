// Package envelope builds gateway request documents: the control and
// authentication envelope, and the function bodies placed inside it.
package envelope

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/core"
)

const (
	// ControlID is echoed by the gateway; requests are not correlated by it.
	ControlID = "foobar"
	// DefaultDTDVersion is the request grammar version.
	DefaultDTDVersion = "3.0"

	header = `<?xml version="1.0" encoding="UTF-8"?>`
)

type request struct {
	XMLName   xml.Name  `xml:"request"`
	Control   control   `xml:"control"`
	Operation operation `xml:"operation"`
}

type control struct {
	SenderID   string `xml:"senderid"`
	Password   string `xml:"password"`
	ControlID  string `xml:"controlid"`
	UniqueID   string `xml:"uniqueid"`
	DTDVersion string `xml:"dtdversion"`
}

type operation struct {
	Transaction    string         `xml:"transaction,attr,omitempty"`
	Authentication authentication `xml:"authentication"`
	Content        content        `xml:"content"`
}

type authentication struct {
	Login     *login  `xml:"login,omitempty"`
	SessionID *string `xml:"sessionid,omitempty"`
}

type login struct {
	UserID     string `xml:"userid"`
	CompanyID  string `xml:"companyid"`
	Password   string `xml:"password"`
	LocationID string `xml:"locationid,omitempty"`
	ClientID   string `xml:"clientid,omitempty"`
}

type content struct {
	Function *function `xml:"function,omitempty"`
	Inner    string    `xml:",innerxml"`
}

type function struct {
	ControlID string `xml:"controlid,attr"`
	Body      string `xml:",innerxml"`
}

// Builder wraps function bodies into complete request documents.
type Builder struct {
	SenderID       string
	SenderPassword string
	SessionID      string
	DTDVersion     string
}

// Login identifies a user for credential bootstrap. EntityType is "",
// "location", or "client"; EntityID scopes the session to that entity.
type Login struct {
	UserID     string
	CompanyID  string
	Password   string
	EntityType string
	EntityID   string
}

// Build wraps body for the current session. With multiFunction the body is a
// sequence of <function> elements and goes into <content> verbatim.
func (b Builder) Build(body string, transactional, multiFunction bool) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w: empty request body", core.ErrArgument)
	}
	sid := b.SessionID
	op := operation{
		Transaction:    fmt.Sprintf("%t", transactional),
		Authentication: authentication{SessionID: &sid},
	}
	if multiFunction {
		op.Content.Inner = body
	} else {
		op.Content.Function = &function{ControlID: ControlID, Body: body}
	}
	return b.marshal(op)
}

// LoginRequest is the credential bootstrap document.
func (b Builder) LoginRequest(l Login) (string, error) {
	if strings.TrimSpace(l.UserID) == "" || strings.TrimSpace(l.CompanyID) == "" {
		return "", fmt.Errorf("%w: user id and company id are required", core.ErrArgument)
	}
	lg := &login{UserID: l.UserID, CompanyID: l.CompanyID, Password: l.Password}
	if strings.TrimSpace(l.EntityID) != "" {
		switch strings.ToLower(strings.TrimSpace(l.EntityType)) {
		case "location", "":
			lg.LocationID = l.EntityID
		case "client":
			lg.ClientID = l.EntityID
		default:
			return "", fmt.Errorf("%w: unknown entity type %q (want location or client)", core.ErrArgument, l.EntityType)
		}
	}
	return b.marshal(bootstrap(authentication{Login: lg}))
}

// SessionRequest is the bootstrap document for an existing session id.
func (b Builder) SessionRequest(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("%w: session id is required", core.ErrArgument)
	}
	sid := sessionID
	return b.marshal(bootstrap(authentication{SessionID: &sid}))
}

func bootstrap(auth authentication) operation {
	return operation{
		Authentication: auth,
		Content: content{Function: &function{
			ControlID: ControlID,
			Body:      "<getAPISession></getAPISession>",
		}},
	}
}

func (b Builder) marshal(op operation) (string, error) {
	dtd := strings.TrimSpace(b.DTDVersion)
	if dtd == "" {
		dtd = DefaultDTDVersion
	}
	doc := request{
		Control: control{
			SenderID:   b.SenderID,
			Password:   b.SenderPassword,
			ControlID:  ControlID,
			UniqueID:   "false",
			DTDVersion: dtd,
		},
		Operation: op,
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal request envelope: %w", err)
	}
	return header + string(out), nil
}
