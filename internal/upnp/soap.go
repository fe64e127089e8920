package upnp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	soapEncoding   = "http://schemas.xmlsoap.org/soap/encoding/"
	controlNS      = "urn:schemas-upnp-org:control-1-0"
)

// Arg is one output argument of an action response. Order is preserved.
type Arg struct {
	Name  string
	Value string
}

// Call is a parsed control request.
type Call struct {
	ServiceType string
	Action      string
	// BaseURL is the scheme and host the control point used to reach us.
	BaseURL string
	args    map[string]string
}

func NewCall(serviceType, action string, args map[string]string) *Call {
	if args == nil {
		args = map[string]string{}
	}
	return &Call{ServiceType: serviceType, Action: action, args: args}
}

// Arg returns a required string argument.
func (c *Call) Arg(name string) (string, error) {
	v, ok := c.args[name]
	if !ok {
		return "", Errorf(ErrCodeInvalidArgs, "missing argument %s", name)
	}
	return v, nil
}

// OptionalArg returns the argument or "" when absent.
func (c *Call) OptionalArg(name string) string {
	return c.args[name]
}

func (c *Call) Uint(name string) (uint32, error) {
	v, err := c.Arg(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, Errorf(ErrCodeInvalidArgs, "argument %s: %q is not a ui4", name, v)
	}
	return uint32(n), nil
}

func (c *Call) Int(name string) (int32, error) {
	v, err := c.Arg(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, Errorf(ErrCodeInvalidArgs, "argument %s: %q is not an i4", name, v)
	}
	return int32(n), nil
}

type requestEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Actions []struct {
			XMLName xml.Name
			Args    []struct {
				XMLName xml.Name
				Value   string `xml:",chardata"`
			} `xml:",any"`
		} `xml:",any"`
	} `xml:"Body"`
}

// ParseCall decodes a SOAP request body. Any decoding problem is reported
// as Invalid Args.
func ParseCall(r io.Reader) (*Call, error) {
	var env requestEnvelope
	if err := xml.NewDecoder(r).Decode(&env); err != nil {
		return nil, Errorf(ErrCodeInvalidArgs, "malformed SOAP envelope: %v", err)
	}
	if env.XMLName.Space != "" && env.XMLName.Space != soapEnvelopeNS {
		return nil, Errorf(ErrCodeInvalidArgs, "unexpected envelope namespace %q", env.XMLName.Space)
	}
	if len(env.Body.Actions) != 1 {
		return nil, Errorf(ErrCodeInvalidArgs, "expected one action in body, got %d", len(env.Body.Actions))
	}

	action := env.Body.Actions[0]
	call := NewCall(action.XMLName.Space, action.XMLName.Local, nil)
	for _, a := range action.Args {
		call.args[a.XMLName.Local] = a.Value
	}
	return call, nil
}

// ParseSOAPAction splits a SOAPACTION header of the form
// "urn:schemas-upnp-org:service:ContentDirectory:1#Browse".
func ParseSOAPAction(header string) (serviceType, action string, err error) {
	h := strings.Trim(strings.TrimSpace(header), `"`)
	serviceType, action, ok := strings.Cut(h, "#")
	if !ok || serviceType == "" || action == "" {
		return "", "", Errorf(ErrCodeInvalidAction, "malformed SOAPACTION %q", header)
	}
	return serviceType, action, nil
}

func writeEnvelopeStart(b *bytes.Buffer) {
	b.WriteString(xml.Header)
	fmt.Fprintf(b, `<s:Envelope xmlns:s="%s" s:encodingStyle="%s"><s:Body>`, soapEnvelopeNS, soapEncoding)
}

func writeEnvelopeEnd(b *bytes.Buffer) {
	b.WriteString(`</s:Body></s:Envelope>`)
}

// MarshalResponse renders an action response envelope. Argument values are
// escaped, so a DIDL-Lite document travels as text.
func MarshalResponse(serviceType, action string, args []Arg) []byte {
	var b bytes.Buffer
	writeEnvelopeStart(&b)
	fmt.Fprintf(&b, `<u:%sResponse xmlns:u="%s">`, action, serviceType)
	for _, a := range args {
		b.WriteString("<" + a.Name + ">")
		xml.EscapeText(&b, []byte(a.Value))
		b.WriteString("</" + a.Name + ">")
	}
	fmt.Fprintf(&b, `</u:%sResponse>`, action)
	writeEnvelopeEnd(&b)
	return b.Bytes()
}

func MarshalFault(e *Error) []byte {
	var b bytes.Buffer
	writeEnvelopeStart(&b)
	b.WriteString(`<s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring><detail>`)
	fmt.Fprintf(&b, `<UPnPError xmlns="%s"><errorCode>%d</errorCode><errorDescription>`, controlNS, e.Code)
	xml.EscapeText(&b, []byte(e.Description))
	b.WriteString(`</errorDescription></UPnPError></detail></s:Fault>`)
	writeEnvelopeEnd(&b)
	return b.Bytes()
}
