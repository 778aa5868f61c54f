package supervisor

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a supervisord-compatible daemon over its XML-RPC
// endpoint (POST <url>/RPC2). Only the three calls the controller needs
// are implemented.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds a gateway client for the given supervisor base URL,
// e.g. "http://localhost:9999". A trailing /RPC2 is appended when missing.
func NewClient(baseURL string) *Client {
	u := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(u, "/RPC2") {
		u += "/RPC2"
	}
	return &Client{
		endpoint:   u,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start starts the named process group. Already-started is not an error.
func (c *Client) Start(ctx context.Context, group string) error {
	_, err := c.call(ctx, "supervisor.startProcess", group, true)
	if err != nil && faultNamed(err, "ALREADY_STARTED") {
		return nil
	}
	return err
}

// Stop stops the named process group. Not-running is not an error.
func (c *Client) Stop(ctx context.Context, group string) error {
	_, err := c.call(ctx, "supervisor.stopProcess", group, true)
	if err != nil && faultNamed(err, "NOT_RUNNING") {
		return nil
	}
	return err
}

// Status reports the coarse state of the named process group. A group the
// supervisor has never heard of maps to StateUnknown.
func (c *Client) Status(ctx context.Context, group string) (ProcessState, error) {
	v, err := c.call(ctx, "supervisor.getProcessInfo", group)
	if err != nil {
		if faultNamed(err, "BAD_NAME") {
			return StateUnknown, nil
		}
		return StateUnknown, err
	}
	name := v.member("statename")
	switch name {
	case "RUNNING", "STARTING":
		return StateRunning, nil
	case "STOPPED", "STOPPING", "EXITED":
		return StateStopped, nil
	case "FATAL", "BACKOFF":
		return StateFatal, nil
	default:
		return StateUnknown, nil
	}
}

// faultError is an XML-RPC fault returned by the supervisor itself, as
// opposed to a transport failure.
type faultError struct {
	code int
	msg  string
}

func (e faultError) Error() string {
	return fmt.Sprintf("supervisor fault %d: %s", e.code, e.msg)
}

// faultNamed matches supervisord fault strings of the form "NAME: detail".
func faultNamed(err error, name string) bool {
	fe, ok := err.(faultError)
	return ok && strings.HasPrefix(fe.msg, name)
}

func (c *Client) call(ctx context.Context, method string, args ...any) (xmlValue, error) {
	var body bytes.Buffer
	body.WriteString(xml.Header)
	body.WriteString("<methodCall><methodName>")
	_ = xml.EscapeText(&body, []byte(method))
	body.WriteString("</methodName><params>")
	for _, a := range args {
		body.WriteString("<param><value>")
		switch v := a.(type) {
		case string:
			body.WriteString("<string>")
			_ = xml.EscapeText(&body, []byte(v))
			body.WriteString("</string>")
		case bool:
			if v {
				body.WriteString("<boolean>1</boolean>")
			} else {
				body.WriteString("<boolean>0</boolean>")
			}
		case int:
			fmt.Fprintf(&body, "<int>%d</int>", v)
		default:
			return xmlValue{}, ErrGateway(fmt.Sprintf("unsupported arg type %T", a))
		}
		body.WriteString("</value></param>")
	}
	body.WriteString("</params></methodCall>")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return xmlValue{}, ErrGateway(err.Error())
	}
	req.Header.Set("Content-Type", "text/xml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xmlValue{}, ErrGateway(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xmlValue{}, ErrGateway("http status " + resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return xmlValue{}, ErrGateway(err.Error())
	}

	var mr methodResponse
	if err := xml.Unmarshal(raw, &mr); err != nil {
		return xmlValue{}, ErrGateway("bad response: " + err.Error())
	}
	if mr.Fault != nil {
		code := 0
		fmt.Sscanf(mr.Fault.member("faultCode"), "%d", &code)
		return xmlValue{}, faultError{code: code, msg: mr.Fault.member("faultString")}
	}
	if len(mr.Params) == 0 {
		return xmlValue{}, nil
	}
	return mr.Params[0], nil
}

// Minimal XML-RPC value decoding: enough for booleans, strings, ints and
// one level of struct members (supervisord's getProcessInfo result).

type methodResponse struct {
	XMLName xml.Name   `xml:"methodResponse"`
	Params  []xmlValue `xml:"params>param>value"`
	Fault   *xmlValue  `xml:"fault>value"`
}

type xmlValue struct {
	Str    *string    `xml:"string"`
	Bool   *string    `xml:"boolean"`
	Int    *string    `xml:"int"`
	I4     *string    `xml:"i4"`
	Struct *xmlStruct `xml:"struct"`
	Text   string     `xml:",chardata"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

// scalar returns the value as a string, tolerating untyped <value> text.
func (v xmlValue) scalar() string {
	switch {
	case v.Str != nil:
		return *v.Str
	case v.Bool != nil:
		return *v.Bool
	case v.Int != nil:
		return *v.Int
	case v.I4 != nil:
		return *v.I4
	default:
		return strings.TrimSpace(v.Text)
	}
}

// member returns the named struct member as a string, or "".
func (v xmlValue) member(name string) string {
	if v.Struct == nil {
		return ""
	}
	for _, m := range v.Struct.Members {
		if m.Name == name {
			return m.Value.scalar()
		}
	}
	return ""
}
